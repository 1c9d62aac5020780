//go:build !unix

package delegate

import "os"

func terminate(p *os.Process) error { return p.Kill() }

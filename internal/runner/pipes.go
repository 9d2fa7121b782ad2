package runner

import "os"

// pipeSet holds both ends of the three standard stream pipes. Only Dispose
// closes the parent ends; reaping the process leaves them open.
type pipeSet struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func openPipes() (*pipeSet, error) {
	p := &pipeSet{}
	var err error

	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, err
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, err
	}
	return p, nil
}

// closeChildEnds closes the ends inherited by the child
func (p *pipeSet) closeChildEnds() {
	closeFiles(p.stdinR, p.stdoutW, p.stderrW)
}

// closeParentEnds closes the ends exposed to callers
func (p *pipeSet) closeParentEnds() {
	closeFiles(p.stdinW, p.stdoutR, p.stderrR)
}

func (p *pipeSet) closeAll() {
	p.closeChildEnds()
	p.closeParentEnds()
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

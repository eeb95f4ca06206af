package host

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	logx "rtcore/pkg/logx"
)

// Natives are the host functions a program may call.
type Natives struct {
	mu  sync.Mutex
	out io.Writer
	log logx.Logger
}

func NewNatives(out io.Writer, log logx.Logger) *Natives {
	if out == nil {
		out = logx.Stdout()
	}
	return &Natives{out: out, log: log}
}

// PrintString writes text followed by a newline.
func (n *Natives) PrintString(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := io.WriteString(n.out, text+"\n"); err != nil {
		return fmt.Errorf("print_string: %w", err)
	}
	return nil
}

func (n *Natives) NumericAdd(a, b float64) float64 { return a + b }

// LogNumber writes v with six decimals, e.g. "40.000000".
func (n *Natives) LogNumber(v float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := io.WriteString(n.out, strconv.FormatFloat(v, 'f', 6, 64)+"\n"); err != nil {
		return fmt.Errorf("log_number: %w", err)
	}
	n.log.Trace("log_number", logx.Float64("value", v))
	return nil
}

package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PromptAcquirer asks on a terminal before handing the request to Next.
// It stands in for a browser permission dialog when dialing headless.
type PromptAcquirer struct {
	In   io.Reader
	Out  io.Writer
	Next Acquirer

	once    sync.Once
	answers chan string
}

func (p *PromptAcquirer) start() {
	p.answers = make(chan string)
	go func() {
		r := bufio.NewReader(p.In)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				p.answers <- strings.TrimSpace(line)
			}
			if err != nil {
				close(p.answers)
				return
			}
		}
	}()
}

func (p *PromptAcquirer) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	p.once.Do(p.start)
	fmt.Fprintf(p.Out, "Allow access to your %s? [y/N] ", c)

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.Out)
		return nil, ctx.Err()
	case a, ok := <-p.answers:
		if !ok {
			return nil, fmt.Errorf("%w: no answer", ErrDenied)
		}
		switch strings.ToLower(a) {
		case "y", "yes":
		default:
			return nil, ErrDenied
		}
	}
	if p.Next == nil {
		return nil, fmt.Errorf("%w: no capture backend", ErrDenied)
	}
	return p.Next.GetUserMedia(ctx, c)
}

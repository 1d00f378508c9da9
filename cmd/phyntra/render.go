package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/phyntra/backend/internal/conversation"
	"github.com/phyntra/backend/internal/models"
)

// timelinePrinter writes conversation messages to w as they are appended.
type timelinePrinter struct {
	w       io.Writer
	conv    *conversation.Controller
	printed int
	cancel  func()
	done    chan struct{}
	quit    chan struct{}
	once    sync.Once
}

func startTimelinePrinter(w io.Writer, conv *conversation.Controller) *timelinePrinter {
	updates, cancel := conv.Subscribe()
	p := &timelinePrinter{
		w:      w,
		conv:   conv,
		cancel: cancel,
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	p.flush()

	go func() {
		defer close(p.done)
		for {
			select {
			case <-updates:
				p.flush()
			case <-p.quit:
				return
			}
		}
	}()
	return p
}

func (p *timelinePrinter) flush() {
	for _, msg := range p.conv.MessagesSince(p.printed) {
		printMessage(p.w, msg)
		p.printed++
	}
}

// stop prints whatever is left and detaches from the conversation.
func (p *timelinePrinter) stop() {
	p.once.Do(func() {
		close(p.quit)
		<-p.done
		p.cancel()
		p.flush()
	})
}

func printMessage(w io.Writer, msg models.Message) {
	speaker := "phyntra"
	if msg.Type == models.MessageTypeUser {
		speaker = "you"
	}
	fmt.Fprintf(w, "[%s] %s:\n%s\n\n", msg.Timestamp, speaker, msg.Content)
}

package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ProcessEngine launches one external simulator process per battle and
// speaks its stdin/stdout line protocol.
type ProcessEngine struct {
	command string
}

func NewProcessEngine(command string) (*ProcessEngine, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("engine command is empty")
	}
	return &ProcessEngine{command: command}, nil
}

func (e *ProcessEngine) Start(ctx context.Context, battleID, format, p1Name, p2Name string) (Instance, error) {
	parts := strings.Fields(e.command)
	cmd := exec.Command(parts[0], parts[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	inst := &processInstance{
		battleID: battleID,
		cmd:      cmd,
		stdin:    stdin,
		events:   make(chan Event, 64),
	}
	go func() {
		readEvents(stdout, inst.events)
		_ = cmd.Wait()
	}()

	if err := inst.writeStart(ctx, format, p1Name, p2Name); err != nil {
		inst.Destroy()
		return nil, err
	}
	log.Info().Str("battle_id", battleID).Str("format", format).Msg("engine started")
	return inst, nil
}

type processInstance struct {
	battleID string
	cmd      *exec.Cmd
	events   chan Event

	writeMu sync.Mutex
	stdin   io.WriteCloser

	destroyOnce sync.Once
}

func (p *processInstance) writeStart(ctx context.Context, format, p1Name, p2Name string) error {
	directives := []string{
		fmt.Sprintf(`>start {"formatid":%q}`, format),
		fmt.Sprintf(`>player p1 {"name":%q}`, p1Name),
		fmt.Sprintf(`>player p2 {"name":%q}`, p2Name),
	}
	for _, d := range directives {
		if err := p.writeLine(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (p *processInstance) SubmitChoice(ctx context.Context, side Side, choice string) error {
	if !side.Valid() {
		return fmt.Errorf("invalid side %q", side)
	}
	return p.writeLine(ctx, fmt.Sprintf(">%s %s", side, choice))
}

func (p *processInstance) writeLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.stdin == nil {
		return errors.New("engine stdin closed")
	}
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

func (p *processInstance) Events() <-chan Event { return p.events }

func (p *processInstance) Destroy() {
	p.destroyOnce.Do(func() {
		p.writeMu.Lock()
		if p.stdin != nil {
			_ = p.stdin.Close()
			p.stdin = nil
		}
		p.writeMu.Unlock()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		log.Debug().Str("battle_id", p.battleID).Msg("engine destroyed")
	})
}

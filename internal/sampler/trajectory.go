package sampler

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/solvmd/internal/dynamo"
)

// coordinate digits after the decimal point in ATOMS lines
const precision = 6

// Trajectory dumps particle snapshots in the LAMMPS text dump layout every
// Every steps, one atom per line sorted by ID.
type Trajectory struct {
	Every int64

	sink *Sink
	pool *BufferPool
}

func NewTrajectory(sink *Sink, every int64) (*Trajectory, error) {
	if every < 0 {
		return nil, &dynamo.ConfigError{Field: "output.dump_every", Reason: "must be non-negative"}
	}
	return &Trajectory{Every: every, sink: sink, pool: NewBufferPool(1 << 22)}, nil
}

func (t *Trajectory) Name() string         { return "dump" }
func (t *Trajectory) Kind() dynamo.FixKind { return dynamo.KindSampler }
func (t *Trajectory) Sink() *Sink          { return t.sink }

func (t *Trajectory) OnStep(ctx *dynamo.Context) error {
	if t.Every <= 0 || ctx.Step%t.Every != 0 {
		return nil
	}
	return t.Write(ctx)
}

// Write renders the current snapshot and stores it in one write.
func (t *Trajectory) Write(ctx *dynamo.Context) error {
	buf := t.pool.Get()
	defer t.pool.Put(buf)
	RenderSnapshot(buf, ctx)
	return t.sink.Write(buf.Bytes())
}

func (t *Trajectory) Close() error { return t.sink.Close() }

// RenderSnapshot appends one dump frame for the current state to buf.
func RenderSnapshot(buf *bytes.Buffer, ctx *dynamo.Context) {
	sys := ctx.System
	lo, hi := sys.Box.Lo, sys.Box.Hi()

	fmt.Fprintf(buf, "ITEM: TIMESTEP\n%d\n", ctx.Step)
	fmt.Fprintf(buf, "ITEM: NUMBER OF ATOMS\n%d\n", sys.Len())
	buf.WriteString("ITEM: BOX BOUNDS pp pp pp\n")
	fmt.Fprintf(buf, "%-1.16e %-1.16e\n", lo.X, hi.X)
	fmt.Fprintf(buf, "%-1.16e %-1.16e\n", lo.Y, hi.Y)
	fmt.Fprintf(buf, "%-1.16e %-1.16e\n", lo.Z, hi.Z)
	buf.WriteString("ITEM: ATOMS id type x y z\n")

	var line []byte
	for _, i := range sys.SortedByID() {
		p := sys.Pos[i]
		line = line[:0]
		line = strconv.AppendInt(line, int64(sys.ID[i]), 10)
		line = append(line, ' ')
		line = strconv.AppendInt(line, int64(sys.Type[i]), 10)
		for _, x := range [3]float64{p.X, p.Y, p.Z} {
			line = append(line, ' ')
			line = strconv.AppendFloat(line, x, 'f', precision, 64)
		}
		line = append(line, '\n')
		buf.Write(line)
	}
}

// Snapshot is one frame read back from a dump.
type Snapshot struct {
	Step int64
	Lo   [3]float64
	Hi   [3]float64
	ID   []int
	Type []int
	Pos  []r3.Vec
}

// ReadSnapshots parses every frame of a dump written by Trajectory.
func ReadSnapshots(r io.Reader) ([]Snapshot, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	next := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		line++
		return sc.Text(), nil
	}
	expect := func(prefix string) error {
		l, err := next()
		if err != nil {
			return err
		}
		if !strings.HasPrefix(l, prefix) {
			return fmt.Errorf("line %d: expected %q, got %q", line, prefix, l)
		}
		return nil
	}

	var frames []Snapshot
	for sc.Scan() {
		line++
		if sc.Text() != "ITEM: TIMESTEP" {
			return frames, fmt.Errorf("line %d: expected ITEM: TIMESTEP, got %q", line, sc.Text())
		}
		var s Snapshot
		l, err := next()
		if err != nil {
			return frames, err
		}
		if s.Step, err = strconv.ParseInt(strings.TrimSpace(l), 10, 64); err != nil {
			return frames, fmt.Errorf("line %d: %w", line, err)
		}
		if err := expect("ITEM: NUMBER OF ATOMS"); err != nil {
			return frames, err
		}
		if l, err = next(); err != nil {
			return frames, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(l))
		if err != nil {
			return frames, fmt.Errorf("line %d: %w", line, err)
		}
		if err := expect("ITEM: BOX BOUNDS"); err != nil {
			return frames, err
		}
		for k := 0; k < 3; k++ {
			if l, err = next(); err != nil {
				return frames, err
			}
			if _, err := fmt.Sscan(l, &s.Lo[k], &s.Hi[k]); err != nil {
				return frames, fmt.Errorf("line %d: box bounds: %w", line, err)
			}
		}
		if err := expect("ITEM: ATOMS"); err != nil {
			return frames, err
		}
		s.ID = make([]int, n)
		s.Type = make([]int, n)
		s.Pos = make([]r3.Vec, n)
		for a := 0; a < n; a++ {
			if l, err = next(); err != nil {
				return frames, err
			}
			var p r3.Vec
			if _, err := fmt.Sscan(l, &s.ID[a], &s.Type[a], &p.X, &p.Y, &p.Z); err != nil {
				return frames, fmt.Errorf("line %d: atom: %w", line, err)
			}
			s.Pos[a] = p
		}
		frames = append(frames, s)
	}
	return frames, sc.Err()
}

// Package bootflow applies a boot layout through an MC portal: it
// carves child containers out of the root, instantiates and configures
// objects, connects endpoints and hands the result off. A failed step
// rolls back everything done before it.
package bootflow

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/mcportal/internal/config"
	"github.com/danmuck/mcportal/internal/dprc"
	"github.com/danmuck/mcportal/internal/mcerr"
	"github.com/danmuck/mcportal/internal/object"
	"github.com/danmuck/mcportal/internal/object/dpsparser"
	"github.com/danmuck/mcportal/internal/portal"
	"github.com/danmuck/mcportal/internal/protocol"
	"github.com/danmuck/mcportal/internal/session"
)

var (
	ErrNoDriver     = errors.New("bootflow: no driver for object type")
	ErrBlobRejected = errors.New("bootflow: configuration blob rejected")
)

// StepError reports the step that failed. Err carries the MC call
// context; Rollback is set when undoing earlier steps also failed.
type StepError struct {
	Step     string
	Err      error
	Rollback error
}

func (e *StepError) Error() string {
	if e.Rollback != nil {
		return fmt.Sprintf("bootflow: %s: %v (rollback: %v)", e.Step, e.Err, e.Rollback)
	}
	return fmt.Sprintf("bootflow: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type Option func(*Runner)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithKind registers another object type layouts may create.
func WithKind(kind object.Kind) Option {
	return func(r *Runner) { r.kinds = append(r.kinds, kind) }
}

type Runner struct {
	portal  *portal.Portal
	dprc    *dprc.Client
	parser  *dpsparser.SoftParser
	drivers map[string]*object.Driver
	kinds   []object.Kind
	logger  zerolog.Logger
	// interfaces beyond 0 that Export queries, per object
	watched map[session.Scope][]uint32
}

func New(p *portal.Portal, opts ...Option) *Runner {
	r := &Runner{
		portal:  p,
		dprc:    dprc.New(p),
		parser:  dpsparser.New(p),
		logger:  zerolog.Nop(),
		watched: map[session.Scope][]uint32{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.drivers = map[string]*object.Driver{dpsparser.Type: r.parser.Driver}
	for _, kind := range r.kinds {
		r.drivers[kind.Type] = object.NewDriver(kind, p)
	}
	return r
}

type ContainerResult struct {
	Name         string
	ID           uint32
	PortalOffset uint64
	Destroyed    bool
}

type ObjectResult struct {
	Name      string
	Type      string
	ID        uint32
	Container string
	Blobs     []dpsparser.BlobResult
}

// Result describes what a successful run left behind. Root is an open
// session only when the layout keeps the root open at hand-off.
type Result struct {
	RootID      uint32
	Root        session.Handle
	Firmware    protocol.FirmwareVersion
	APIVersions map[string]protocol.APIVersion
	Containers  []ContainerResult
	Objects     []ObjectResult
	Connections int
}

type plannedContainer struct {
	layout config.ContainerLayout
	cfg    dprc.Config
}

type plannedConnection struct {
	ep1, ep2 protocol.Endpoint
	rate     *dprc.RateConfig
}

type plan struct {
	containers  []plannedContainer
	connections []plannedConnection
	types       []string
}

// prepare resolves everything that can be checked without touching the
// portal.
func (r *Runner) prepare(layout config.Layout) (plan, error) {
	if err := config.ValidateLayout(layout); err != nil {
		return plan{}, err
	}
	var out plan
	for _, c := range layout.Containers {
		opts, err := dprc.ParseOptions(c.Options)
		if err != nil {
			return plan{}, fmt.Errorf("container %s: %w", c.Name, err)
		}
		cfg := dprc.PoolConfig(opts, c.Name)
		if c.ICID != nil {
			cfg.ICID = *c.ICID
		}
		if c.PortalID != nil {
			cfg.PortalID = int32(*c.PortalID)
		}
		out.containers = append(out.containers, plannedContainer{layout: c, cfg: cfg})
	}
	seen := map[string]bool{}
	for _, o := range layout.Objects {
		if _, ok := r.drivers[o.Type]; !ok {
			return plan{}, fmt.Errorf("%w: %s", ErrNoDriver, o.Type)
		}
		if len(o.Blobs) > 0 && o.Type != dpsparser.Type {
			return plan{}, fmt.Errorf("object %s: blobs only apply to %s", objectName(o), dpsparser.Type)
		}
		if !seen[o.Type] {
			seen[o.Type] = true
			out.types = append(out.types, o.Type)
		}
	}
	for _, c := range layout.Connections {
		ep1, _ := config.ParseEndpoint(c.Endpoint1)
		ep2, _ := config.ParseEndpoint(c.Endpoint2)
		pc := plannedConnection{ep1: ep1, ep2: ep2}
		if c.CommittedRate != 0 || c.MaxRate != 0 {
			pc.rate = &dprc.RateConfig{CommittedRate: c.CommittedRate, MaxRate: c.MaxRate}
		}
		out.connections = append(out.connections, pc)
	}
	return out, nil
}

// Run applies layout. On failure every completed step is undone in
// reverse order and a *StepError is returned.
func (r *Runner) Run(layout config.Layout) (Result, error) {
	pl, err := r.prepare(layout)
	if err != nil {
		return Result{}, &StepError{Step: "plan", Err: err}
	}

	var undo undoStack
	fail := func(step string, err error) (Result, error) {
		r.logger.Error().Err(err).Str("step", step).Msg("boot step failed")
		return Result{}, &StepError{Step: step, Err: err, Rollback: undo.rollback(r.logger)}
	}

	res := Result{APIVersions: map[string]protocol.APIVersion{}}

	if res.RootID, err = r.dprc.GetContainerID(); err != nil {
		return fail("discover root", err)
	}
	if res.Firmware, err = r.portal.FirmwareVersion(); err != nil {
		return fail("firmware version", err)
	}
	root, err := r.dprc.Open(res.RootID)
	if err != nil {
		return fail("open root", err)
	}
	undo.push("open root", func() error { return r.closeIfOpen(root) })
	r.logger.Info().
		Uint32("root", res.RootID).
		Str("firmware", res.Firmware.String()).
		Str("layout", layout.Name).
		Msg("boot started")

	v, err := r.dprc.GetAPIVersion()
	if err != nil {
		return fail("api version dprc", err)
	}
	res.APIVersions[session.ContainerType] = v
	for _, typ := range pl.types {
		v, err := r.drivers[typ].GetAPIVersion()
		if err != nil {
			return fail("api version "+typ, err)
		}
		res.APIVersions[typ] = v
	}

	handles := map[string]session.Handle{"": root}
	type opened struct {
		name   string
		parent string
		id     uint32
	}
	var created []opened
	for _, pc := range pl.containers {
		name := pc.layout.Name
		parentH := handles[pc.layout.Parent]
		step := "create container " + name
		child, err := r.dprc.CreateContainer(parentH, pc.cfg)
		if err != nil {
			return fail(step, err)
		}
		undo.push(step, func() error {
			return ignoreNotFound(r.dprc.DestroyContainer(parentH, child.ID))
		})
		r.logger.Info().
			Str("container", name).
			Uint32("id", child.ID).
			Uint64("portal_offset", child.PortalOffset).
			Str("options", pc.cfg.Options.String()).
			Msg("container created")

		step = "open container " + name
		h, err := r.dprc.Open(child.ID)
		if err != nil {
			return fail(step, err)
		}
		undo.push(step, func() error { return r.closeIfOpen(h) })
		handles[name] = h
		created = append(created, opened{name: name, parent: pc.layout.Parent, id: child.ID})
		res.Containers = append(res.Containers, ContainerResult{Name: name, ID: child.ID, PortalOffset: child.PortalOffset})
	}

	for _, o := range layout.Objects {
		out, err := r.placeObject(o, handles[o.Container], &undo)
		if err != nil {
			var se *StepError
			if errors.As(err, &se) {
				return fail(se.Step, se.Err)
			}
			return fail("object "+objectName(o), err)
		}
		res.Objects = append(res.Objects, out)
	}

	for _, pc := range pl.connections {
		step := fmt.Sprintf("connect %s-%s", pc.ep1, pc.ep2)
		if err := r.dprc.Connect(root, pc.ep1, pc.ep2, pc.rate); err != nil {
			return fail(step, err)
		}
		r.Watch(pc.ep1, pc.ep2)
		ep := pc.ep1
		undo.push(step, func() error { return r.dprc.Disconnect(root, ep) })
		res.Connections++
	}

	// Hand-off: requested teardown first, while every parent session is
	// still open, then child sessions deepest first.
	for _, name := range layout.Handoff.Destroy {
		for i := range created {
			if created[i].name != name {
				continue
			}
			if _, err := r.portal.Sessions().RequireValid(handles[name]); err != nil {
				// already gone with an ancestor
				res.Containers[i].Destroyed = true
				continue
			}
			step := "destroy container " + name
			if err := r.dprc.DestroyContainer(handles[created[i].parent], created[i].id); err != nil {
				return fail(step, err)
			}
			res.Containers[i].Destroyed = true
			r.logger.Info().Str("container", name).Uint32("id", created[i].id).Msg("container destroyed at hand-off")
		}
	}
	for i := len(created) - 1; i >= 0; i-- {
		if err := r.closeIfOpen(handles[created[i].name]); err != nil {
			return fail("close container "+created[i].name, err)
		}
	}
	if layout.Handoff.KeepRootOpen {
		res.Root = root
	} else if err := r.dprc.Close(root); err != nil {
		return fail("close root", err)
	}

	r.logger.Info().
		Int("containers", len(res.Containers)).
		Int("objects", len(res.Objects)).
		Int("connections", res.Connections).
		Msg("boot handed off")
	return res, nil
}

// placeObject creates, opens, configures and closes one object, pushing
// the undo for each completed call.
func (r *Runner) placeObject(o config.ObjectLayout, container session.Handle, undo *undoStack) (ObjectResult, error) {
	name := objectName(o)
	driver := r.drivers[o.Type]
	out := ObjectResult{Name: o.Name, Type: o.Type, Container: o.Container}

	step := "create object " + name
	id, err := driver.Create(container)
	if err != nil {
		return out, &StepError{Step: step, Err: err}
	}
	out.ID = id
	undo.push(step, func() error { return ignoreNotFound(driver.Destroy(container, id)) })
	r.logger.Info().Str("object", name).Str("type", o.Type).Uint32("id", id).Msg("object created")

	step = "open object " + name
	h, err := driver.Open(id)
	if err != nil {
		return out, &StepError{Step: step, Err: err}
	}
	undo.push(step, func() error { return r.closeIfOpen(h) })

	for _, addr := range o.Blobs {
		step := fmt.Sprintf("apply blob %s 0x%x", name, addr)
		blob, err := r.parser.ApplyBlob(h, addr)
		if err != nil {
			return out, &StepError{Step: step, Err: err}
		}
		if !blob.OK() {
			return out, &StepError{Step: step, Err: fmt.Errorf("%w: code %d", ErrBlobRejected, blob.Code)}
		}
		out.Blobs = append(out.Blobs, blob)
	}

	if err := driver.Close(h); err != nil {
		return out, &StepError{Step: "close object " + name, Err: err}
	}
	return out, nil
}

// closeIfOpen closes h unless it is already stale, which happens when a
// destroy or an earlier close got there first.
func (r *Runner) closeIfOpen(h session.Handle) error {
	if _, err := r.portal.Sessions().RequireValid(h); err != nil {
		return nil
	}
	return r.portal.Close(h)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, mcerr.ErrNotFound) {
		return nil
	}
	return err
}

func objectName(o config.ObjectLayout) string {
	if o.Name != "" {
		return o.Name
	}
	return o.Type
}

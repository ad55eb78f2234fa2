package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshare/internal/domain/events"
	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/apperr"
	"github.com/GriffinCanCode/appshare/internal/shared/id"
	"github.com/GriffinCanCode/appshare/internal/shared/loop"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

const (
	DefaultStopGrace     = 5 * time.Second
	DefaultMaxConcurrent = 10
)

// Config configures the supervisor
type Config struct {
	MaxConcurrent int
	Display       string
	Home          string
	StopGrace     time.Duration
	// BaseEnv is the environment every child inherits; nil means os.Environ()
	BaseEnv []string
}

type instance struct {
	view          types.InstanceView
	proc          Process
	stopRequested bool
	// exited is closed by the monitor once the record has been removed
	exited chan struct{}
}

func (in *instance) snapshot() types.InstanceView {
	v := in.view
	v.Args = append([]string(nil), in.view.Args...)
	return v
}

// Supervisor launches and tracks application processes.
// The instance table is owned by the supervisor's loop.
type Supervisor struct {
	cfg       Config
	catalog   *Catalog
	launcher  Launcher
	publisher events.Publisher
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	loop      *loop.Loop

	instances map[string]*instance
	reserved  int

	hooksMu sync.RWMutex
	onExit  []func(events.InstanceEvent)
}

// NewSupervisor creates a supervisor
func NewSupervisor(cfg Config, catalog *Catalog, launcher Launcher, publisher events.Publisher, clock clockwork.Clock, logger *zap.Logger) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Supervisor{
		cfg:       cfg,
		catalog:   catalog,
		launcher:  launcher,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		loop:      loop.New(64),
		instances: make(map[string]*instance),
	}
}

// WithMetrics attaches metrics collection
func (s *Supervisor) WithMetrics(m *monitoring.Metrics) *Supervisor {
	s.metrics = m
	return s
}

// OnExit registers fn to run after an instance's record has been removed.
// Hooks run on the instance's monitor goroutine, in registration order,
// before Stop and Shutdown return for that instance. Unlike the event
// publisher they never drop a call.
func (s *Supervisor) OnExit(fn func(events.InstanceEvent)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onExit = append(s.onExit, fn)
}

// Catalog returns the launch catalogue
func (s *Supervisor) Catalog() *Catalog {
	return s.catalog
}

// Start launches an allowed application on behalf of requester
func (s *Supervisor) Start(ctx context.Context, name, requester string) (types.InstanceView, error) {
	spec, ok := s.catalog.Resolve(name)
	if !ok {
		s.reject("not_allowed")
		return types.InstanceView{}, apperr.NotAllowed("application", name)
	}

	var capErr error
	if err := s.loop.Do(ctx, func() {
		if len(s.instances)+s.reserved >= s.cfg.MaxConcurrent {
			capErr = apperr.CapacityExceeded("instance", spec.Name, s.cfg.MaxConcurrent)
			return
		}
		s.reserved++
	}); err != nil {
		return types.InstanceView{}, err
	}
	if capErr != nil {
		s.reject("capacity")
		return types.InstanceView{}, capErr
	}

	proc, err := s.launcher.Launch(ctx, spec, s.environment(spec))
	if err != nil {
		s.loop.Post(func() { s.reserved-- })
		s.reject("launch_failed")
		s.logger.Warn("Failed to launch application",
			zap.String("name", spec.Name),
			zap.String("program", spec.Program),
			zap.Error(err))
		return types.InstanceView{}, apperr.LaunchFailed(spec.Name, err)
	}

	inst := &instance{
		view: types.InstanceView{
			ID:          id.NewInstanceID().String(),
			Name:        spec.Name,
			DisplayName: spec.DisplayName,
			Program:     spec.Program,
			Args:        spec.Args,
			Owner:       requester,
			PID:         proc.Pid(),
			State:       types.StateStarting,
			StartedAt:   s.clock.Now(),
		},
		proc:   proc,
		exited: make(chan struct{}),
	}
	starting := s.instanceEvent(inst)

	// The process exists now, so it is recorded even if the caller gave up.
	var view types.InstanceView
	if err := s.loop.Do(context.Background(), func() {
		s.reserved--
		inst.view.State = types.StateRunning
		s.instances[inst.view.ID] = inst
		view = inst.snapshot()
		s.updateGauge()
	}); err != nil {
		_ = proc.Kill()
		go proc.Wait()
		return types.InstanceView{}, err
	}

	s.publisher.Publish(starting)
	s.publisher.Publish(s.eventFor(view))
	if s.metrics != nil {
		s.metrics.IncInstancesStarted()
	}

	s.logger.Info("Application started",
		zap.String("instance_id", view.ID),
		zap.String("name", view.Name),
		zap.String("owner", view.Owner),
		zap.Int("pid", view.PID))

	go s.monitor(inst)
	return view, nil
}

// Stop terminates an instance and returns once its record is gone.
// An empty requester is the system and bypasses the owner check.
func (s *Supervisor) Stop(ctx context.Context, instanceID, requester string) error {
	start := s.clock.Now()

	var (
		inst  *instance
		first bool
		opErr error
		event events.InstanceEvent
	)
	if err := s.loop.Do(ctx, func() {
		in, ok := s.instances[instanceID]
		if !ok {
			opErr = apperr.NotFound("instance", instanceID)
			return
		}
		if requester != "" && requester != in.view.Owner {
			opErr = apperr.Forbidden("instance", instanceID)
			return
		}
		inst = in
		if !in.stopRequested {
			in.stopRequested = true
			in.view.State = types.StateStopping
			first = true
			event = s.instanceEvent(in)
		}
	}); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	if first {
		s.publisher.Publish(event)
		if err := inst.proc.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("SIGTERM not delivered",
				zap.String("instance_id", instanceID),
				zap.Error(err))
		}
		go s.escalate(inst)
	}

	select {
	case <-inst.exited:
	case <-ctx.Done():
		return apperr.Timeout("instance", instanceID, ctx.Err())
	}

	if !first {
		return apperr.NotFound("instance", instanceID)
	}

	if s.metrics != nil {
		s.metrics.ObserveStopDuration(s.clock.Since(start))
	}
	return nil
}

// escalate kills the process if it outlives the grace period
func (s *Supervisor) escalate(inst *instance) {
	timer := s.clock.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()

	select {
	case <-inst.exited:
	case <-timer.Chan():
		s.logger.Warn("Grace period exceeded, killing application",
			zap.String("instance_id", inst.view.ID),
			zap.Duration("grace", s.cfg.StopGrace))
		if err := inst.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH) {
			s.logger.Error("Failed to kill application",
				zap.String("instance_id", inst.view.ID),
				zap.Error(err))
		}
	}
}

// monitor waits for the process to exit, then finalizes and removes the record
func (s *Supervisor) monitor(inst *instance) {
	code, waitErr := inst.proc.Wait()
	if waitErr != nil {
		s.logger.Error("Could not read exit status",
			zap.String("instance_id", inst.view.ID),
			zap.Error(waitErr))
	}

	var event events.InstanceEvent
	finalize := func() {
		now := s.clock.Now()
		state := types.StateCrashed
		if waitErr == nil && (code == 0 || inst.stopRequested) {
			state = types.StateStopped
		}
		inst.view.State = state
		inst.view.StoppedAt = &now
		if waitErr == nil {
			exitCode := code
			inst.view.ExitCode = &exitCode
		}
		event = s.instanceEvent(inst)
	}

	if err := s.loop.Do(context.Background(), func() {
		finalize()
		delete(s.instances, inst.view.ID)
		s.updateGauge()
	}); err != nil {
		// The loop is gone and the table frozen; only report.
		finalize()
	}

	s.publisher.Publish(event)
	if s.metrics != nil {
		s.metrics.RecordInstanceExit(string(event.State))
	}

	s.hooksMu.RLock()
	hooks := s.onExit
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(event)
	}

	fields := []zap.Field{
		zap.String("instance_id", event.InstanceID),
		zap.String("name", event.Name),
		zap.String("state", string(event.State)),
	}
	if event.ExitCode != nil {
		fields = append(fields, zap.Int("exit_code", *event.ExitCode))
	}
	if event.State == types.StateCrashed {
		s.logger.Warn("Application crashed", fields...)
	} else {
		s.logger.Info("Application stopped", fields...)
	}

	close(inst.exited)
}

// Status returns a snapshot of one instance
func (s *Supervisor) Status(ctx context.Context, instanceID string) (types.InstanceView, error) {
	var (
		view  types.InstanceView
		found bool
	)
	if err := s.loop.Do(ctx, func() {
		if in, ok := s.instances[instanceID]; ok {
			view, found = in.snapshot(), true
		}
	}); err != nil {
		return types.InstanceView{}, err
	}
	if !found {
		return types.InstanceView{}, apperr.NotFound("instance", instanceID)
	}
	return view, nil
}

// List returns live instances sorted by start time. An empty owner lists all.
func (s *Supervisor) List(ctx context.Context, owner string) ([]types.InstanceView, error) {
	views, err := loop.Call(ctx, s.loop, func() []types.InstanceView {
		out := make([]types.InstanceView, 0, len(s.instances))
		for _, in := range s.instances {
			if owner == "" || in.view.Owner == owner {
				out = append(out, in.snapshot())
			}
		}
		return out
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(views, func(i, j int) bool {
		if !views[i].StartedAt.Equal(views[j].StartedAt) {
			return views[i].StartedAt.Before(views[j].StartedAt)
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

// Logs returns the buffered console output of an instance
func (s *Supervisor) Logs(ctx context.Context, instanceID string) ([]byte, error) {
	proc, err := loop.Call(ctx, s.loop, func() Process {
		if in, ok := s.instances[instanceID]; ok {
			return in.proc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, apperr.NotFound("instance", instanceID)
	}
	return proc.Output(), nil
}

// Stats returns supervisor statistics
func (s *Supervisor) Stats(ctx context.Context) (types.SupervisorStats, error) {
	return loop.Call(ctx, s.loop, func() types.SupervisorStats {
		stats := types.SupervisorStats{
			Starting:     s.reserved,
			MaxInstances: s.cfg.MaxConcurrent,
		}
		for _, in := range s.instances {
			switch in.view.State {
			case types.StateStopping:
				stats.Stopping++
			case types.StateRunning:
				stats.Running++
			}
		}
		return stats
	})
}

// Shutdown stops every instance as the system, then stops the loop
func (s *Supervisor) Shutdown(ctx context.Context) error {
	ids, err := loop.Call(ctx, s.loop, func() []string {
		out := make([]string, 0, len(s.instances))
		for key := range s.instances {
			out = append(out, key)
		}
		return out
	})
	if err != nil && !errors.Is(err, loop.ErrStopped) {
		return err
	}

	s.logger.Info("Stopping all applications", zap.Int("count", len(ids)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, instanceID := range ids {
		wg.Add(1)
		go func(instanceID string) {
			defer wg.Done()
			if err := s.Stop(ctx, instanceID, ""); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", instanceID, err))
				mu.Unlock()
			}
		}(instanceID)
	}
	wg.Wait()

	s.loop.Stop()
	return errors.Join(errs...)
}

func (s *Supervisor) environment(spec LaunchSpec) []string {
	base := s.cfg.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	overrides := map[string]string{}
	if s.cfg.Display != "" {
		overrides["DISPLAY"] = s.cfg.Display
	}
	if s.cfg.Home != "" {
		overrides["HOME"] = s.cfg.Home
	}
	for k, v := range spec.Env {
		overrides[k] = v
	}
	return BuildEnv(base, overrides)
}

// BuildEnv applies overrides to a KEY=VALUE environment. Overridden keys
// are replaced, new keys are appended in sorted order.
func BuildEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// updateGauge must run on the loop
func (s *Supervisor) updateGauge() {
	if s.metrics != nil {
		s.metrics.SetInstancesActive(len(s.instances))
	}
}

func (s *Supervisor) reject(reason string) {
	if s.metrics != nil {
		s.metrics.RecordInstanceRejected(reason)
	}
}

func (s *Supervisor) instanceEvent(in *instance) events.InstanceEvent {
	return s.eventFor(in.snapshot())
}

func (s *Supervisor) eventFor(v types.InstanceView) events.InstanceEvent {
	ts := s.clock.Now()
	if v.StoppedAt != nil {
		ts = *v.StoppedAt
	}
	return events.InstanceEvent{
		InstanceID: v.ID,
		Name:       v.Name,
		Owner:      v.Owner,
		State:      v.State,
		PID:        v.PID,
		ExitCode:   v.ExitCode,
		Timestamp:  ts,
	}
}

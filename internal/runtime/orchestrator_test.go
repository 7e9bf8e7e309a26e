package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/goplan/internal/runtime"
	"github.com/aretw0/goplan/internal/testutils"
	"github.com/aretw0/goplan/pkg/adapters/memory"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/aretw0/goplan/pkg/graph"
	"github.com/aretw0/goplan/pkg/planner"
	"github.com/aretw0/goplan/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orch       *runtime.Orchestrator
	store      *memory.Store
	extractor  *testutils.ScriptedExtractor
	flights    *testutils.StubRecommender
	hotels     *testutils.StubRecommender
	activities *testutils.StubRecommender
	synth      *testutils.JoinSynthesizer
}

func newFixture(t *testing.T, turns []testutils.Turn, mutate func(*fixture), opts ...runtime.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:      memory.NewStore(),
		extractor:  testutils.NewScriptedExtractor(turns...),
		flights:    &testutils.StubRecommender{Name: "flights"},
		hotels:     &testutils.StubRecommender{Name: "hotels"},
		activities: &testutils.StubRecommender{Name: "activities"},
		synth:      &testutils.JoinSynthesizer{},
	}
	if mutate != nil {
		mutate(f)
	}
	g, err := planner.NewGraph(planner.Providers{
		Extractor:   f.extractor,
		Flights:     f.flights,
		Hotels:      f.hotels,
		Activities:  f.activities,
		Synthesizer: f.synth,
	})
	require.NoError(t, err)
	f.orch = runtime.New(g, f.store, opts...)
	return f
}

func completeTrip() []testutils.Turn {
	return []testutils.Turn{{Fields: testutils.ParisTrip(), Complete: testutils.Bool(true), Response: "Got it"}}
}

func start(t *testing.T, f *fixture, id string) domain.Outcome {
	t.Helper()
	out, err := f.orch.Start(context.Background(), domain.StartRequest{ConversationID: id, Input: "New York to Paris, 15-22 Sep"})
	require.NoError(t, err)
	require.NotNil(t, out.State)
	assert.True(t, out.State.Status.IsTerminal(), "call returned with status %s", out.State.Status)
	return out
}

var fanOutTrail = []string{
	planner.StepGatherInfo,
	planner.StepActivities,
	planner.StepFlights,
	planner.StepHotels,
	planner.StepFinalPlan,
}

func TestOrchestrator_CompleteTrip(t *testing.T) {
	f := newFixture(t, completeTrip(), nil)

	out := start(t, f, "trip-1")

	assert.Equal(t, domain.StatusCompleted, out.State.Status)
	assert.Nil(t, out.Handle)
	assert.Equal(t, fanOutTrail, out.State.Trail)
	assert.Empty(t, out.State.Errors)
	assert.Equal(t, "Plan for Paris:\n"+
		"- activity: activities options for Paris\n"+
		"- flight: flights options for Paris\n"+
		"- hotel: hotels options for Paris", out.State.FinalOutput)
	assert.Equal(t, "medium", out.State.Preferences.BudgetLevel)
	assert.Equal(t, 1, f.flights.Calls())
	assert.Equal(t, 0, f.store.Len(), "completed checkpoint should be retired")
}

func TestOrchestrator_GeneratesConversationID(t *testing.T) {
	f := newFixture(t, completeTrip(), nil, runtime.WithIDGenerator(func() string { return "generated" }))

	out, err := f.orch.Start(context.Background(), domain.StartRequest{Input: "Paris"})
	require.NoError(t, err)
	assert.Equal(t, "generated", out.State.ConversationID)
}

func TestOrchestrator_SuspendAndResume(t *testing.T) {
	f := newFixture(t, []testutils.Turn{
		{Fields: map[string]any{"destination": "Paris"}, Response: "Where are you flying from, and when?"},
		{Fields: testutils.ParisTrip(), Complete: testutils.Bool(true)},
	}, nil)

	out := start(t, f, "trip-1")
	require.Equal(t, domain.StatusAwaitingInput, out.State.Status)
	require.NotNil(t, out.Handle)
	assert.Equal(t, planner.StepNeedInput, out.Handle.Step)
	assert.Equal(t, "Where are you flying from, and when?", out.Handle.Payload)
	assert.Equal(t, []string{planner.StepGatherInfo, planner.StepNeedInput}, out.State.Trail)
	assert.Equal(t, 0, f.flights.Calls())

	saved, err := f.store.Load(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingInput, saved.Status)
	require.NotNil(t, saved.Suspension)
	assert.Equal(t, planner.StepNeedInput, saved.Suspension.Step)

	out, err = f.orch.Resume(context.Background(), "trip-1", "From New York, 15 to 22 September")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.State.Status)
	assert.Nil(t, out.State.Suspension)
	assert.Equal(t, "From New York, 15 to 22 September", out.State.RawUserInput)
	assert.Equal(t, []string{"New York to Paris, 15-22 Sep", "From New York, 15 to 22 September"}, f.extractor.Inputs)
	assert.Len(t, out.State.History, 4)
	assert.Equal(t, append([]string{planner.StepGatherInfo, planner.StepNeedInput, planner.StepNeedInput}, fanOutTrail...), out.State.Trail)
	assert.Equal(t, 0, f.store.Len())
}

func TestOrchestrator_ResumeUnknown(t *testing.T) {
	f := newFixture(t, completeTrip(), nil)

	_, err := f.orch.Resume(context.Background(), "ghost", "hello")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.extractor.Calls())
}

func TestOrchestrator_ResumeNotAwaiting(t *testing.T) {
	f := newFixture(t, completeTrip(), nil, runtime.WithRetainCompleted(true))
	start(t, f, "trip-1")

	out, err := f.orch.Resume(context.Background(), "trip-1", "again")
	require.ErrorIs(t, err, domain.ErrNotAwaitingInput)
	assert.Equal(t, domain.StatusCompleted, out.State.Status)
	assert.Equal(t, 1, f.extractor.Calls())

	saved, err := f.store.Load(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, saved.Status)
}

func TestOrchestrator_ResumeAfterCompletion(t *testing.T) {
	f := newFixture(t, completeTrip(), nil)
	start(t, f, "trip-1")

	_, err := f.orch.Resume(context.Background(), "trip-1", "again")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_ProviderTimeoutDegrades(t *testing.T) {
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.flights.Delay = time.Second
	}, runtime.WithStepTimeout(50*time.Millisecond))

	out := start(t, f, "trip-1")

	assert.Equal(t, domain.StatusCompleted, out.State.Status)
	flight := out.State.Results[planner.ProviderFlight]
	assert.True(t, flight.Degraded)
	assert.True(t, strings.HasPrefix(flight.Content, "Flight search temporarily unavailable"))
	assert.False(t, out.State.Results[planner.ProviderHotel].Degraded)
	assert.False(t, out.State.Results[planner.ProviderActivity].Degraded)

	require.Len(t, out.State.Errors, 1)
	rec := out.State.Errors[0]
	assert.Equal(t, planner.StepFlights, rec.Step)
	assert.Equal(t, planner.ProviderFlight, rec.Provider)
	assert.Equal(t, domain.KindTimeout, rec.Kind)
	assert.Contains(t, out.State.FinalOutput, "- flight: Flight search temporarily unavailable")
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.hotels.Panic = true
		f.activities.Err = errors.New("upstream 502")
	})

	out := start(t, f, "trip-1")

	assert.Equal(t, domain.StatusCompleted, out.State.Status)
	assert.False(t, out.State.Results[planner.ProviderFlight].Degraded)
	assert.True(t, out.State.Results[planner.ProviderHotel].Degraded)
	assert.True(t, out.State.Results[planner.ProviderActivity].Degraded)
	assert.Contains(t, out.State.Results[planner.ProviderActivity].Content, "upstream 502")

	require.Len(t, out.State.Errors, 2)
	assert.Equal(t, planner.StepActivities, out.State.Errors[0].Step)
	assert.Equal(t, domain.KindProvider, out.State.Errors[0].Kind)
	assert.Equal(t, planner.StepHotels, out.State.Errors[1].Step)
	assert.Equal(t, domain.KindPanic, out.State.Errors[1].Kind)
	assert.Equal(t, fanOutTrail, out.State.Trail)
}

func TestOrchestrator_FanOutOrderIndependentOfTiming(t *testing.T) {
	delays := [][3]time.Duration{
		{30 * time.Millisecond, 0, 15 * time.Millisecond},
		{0, 30 * time.Millisecond, 5 * time.Millisecond},
		{10 * time.Millisecond, 5 * time.Millisecond, 0},
	}
	var outputs []string
	for i, d := range delays {
		f := newFixture(t, completeTrip(), func(f *fixture) {
			f.flights.Delay, f.hotels.Delay, f.activities.Delay = d[0], d[1], d[2]
		})
		out := start(t, f, fmt.Sprintf("trip-%d", i))
		assert.Equal(t, fanOutTrail, out.State.Trail)
		assert.Len(t, out.State.Results, 3)
		outputs = append(outputs, out.State.FinalOutput)
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[0], outputs[2])
}

func TestOrchestrator_ExtractionFailureAsksAgain(t *testing.T) {
	f := newFixture(t, []testutils.Turn{{Err: errors.New("model overloaded")}}, nil)

	out := start(t, f, "trip-1")

	assert.Equal(t, domain.StatusAwaitingInput, out.State.Status)
	require.NotNil(t, out.Handle)
	assert.Contains(t, out.Handle.Payload, "Could you restate")
	require.Len(t, out.State.Errors, 1)
	assert.Equal(t, planner.StepGatherInfo, out.State.Errors[0].Step)
	assert.Equal(t, "extractor", out.State.Errors[0].Provider)
	assert.Equal(t, 0, f.flights.Calls())
}

func TestOrchestrator_ContradictoryCompleteness(t *testing.T) {
	f := newFixture(t, []testutils.Turn{
		{Fields: map[string]any{"destination": "Paris", "origin": "NYC"}, Complete: testutils.Bool(true)},
	}, nil)

	out := start(t, f, "trip-1")

	assert.Equal(t, domain.StatusAwaitingInput, out.State.Status)
	assert.Equal(t, planner.DefaultQuestion, out.Handle.Payload)
	assert.Equal(t, 0, f.flights.Calls()+f.hotels.Calls()+f.activities.Calls())
}

func TestOrchestrator_SynthesisFailureComposesPlan(t *testing.T) {
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.synth.Err = errors.New("quota exceeded")
	})

	out := start(t, f, "trip-1")

	assert.Equal(t, domain.StatusCompleted, out.State.Status)
	assert.True(t, strings.HasPrefix(out.State.FinalOutput, "# Trip plan: New York to Paris"))
	assert.Contains(t, out.State.FinalOutput, "flights options for Paris")
	require.Len(t, out.State.Errors, 1)
	assert.Equal(t, planner.StepFinalPlan, out.State.Errors[0].Step)
	assert.Equal(t, "synthesizer", out.State.Errors[0].Provider)
}

func TestOrchestrator_CallTimeoutPersistsFailure(t *testing.T) {
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.flights.Delay = 2 * time.Second
	}, runtime.WithStepTimeout(5*time.Second), runtime.WithCallTimeout(100*time.Millisecond))

	out := start(t, f, "trip-1")

	assert.Equal(t, domain.StatusFailed, out.State.Status)
	assert.Empty(t, out.State.FinalOutput)

	saved, err := f.store.Load(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, saved.Status)
	require.NotEmpty(t, saved.Errors)
	assert.Equal(t, domain.KindCall, saved.Errors[len(saved.Errors)-1].Kind)

	_, err = f.orch.Resume(context.Background(), "trip-1", "retry")
	assert.ErrorIs(t, err, domain.ErrNotAwaitingInput)
}

func TestOrchestrator_ParentCancellation(t *testing.T) {
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.flights.Delay = 2 * time.Second
	}, runtime.WithStepTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	out, err := f.orch.Start(ctx, domain.StartRequest{ConversationID: "trip-1", Input: "Paris"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusFailed, out.State.Status)
}

func waitInFlight(t *testing.T, f *fixture, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		report, err := f.orch.Status(context.Background(), id)
		return err == nil && report.InFlight && f.flights.Calls() > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestrator_CancelDiscardsInFlightCall(t *testing.T) {
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.flights.Delay = 2 * time.Second
	}, runtime.WithStepTimeout(5*time.Second))

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.Start(context.Background(), domain.StartRequest{ConversationID: "trip-1", Input: "Paris"})
		errCh <- err
	}()
	waitInFlight(t, f, "trip-1")

	report, err := f.orch.Status(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, report.Status)

	require.NoError(t, f.orch.Cancel(context.Background(), "trip-1"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrDiscarded)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled call did not return")
	}

	_, err = f.store.Load(context.Background(), "trip-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, f.synth.Calls())
}

func TestOrchestrator_CancelUnknown(t *testing.T) {
	f := newFixture(t, completeTrip(), nil)
	assert.ErrorIs(t, f.orch.Cancel(context.Background(), "ghost"), domain.ErrNotFound)
}

func TestOrchestrator_CancelSuspended(t *testing.T) {
	f := newFixture(t, []testutils.Turn{{Fields: map[string]any{"destination": "Paris"}}}, nil)
	start(t, f, "trip-1")

	require.NoError(t, f.orch.Cancel(context.Background(), "trip-1"))
	_, err := f.orch.Resume(context.Background(), "trip-1", "from NYC")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_BusyConversation(t *testing.T) {
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.flights.Delay = 2 * time.Second
	}, runtime.WithStepTimeout(5*time.Second))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.orch.Start(context.Background(), domain.StartRequest{ConversationID: "trip-1", Input: "Paris"})
	}()
	waitInFlight(t, f, "trip-1")

	_, err := f.orch.Start(context.Background(), domain.StartRequest{ConversationID: "trip-1", Input: "again"})
	assert.ErrorIs(t, err, domain.ErrConversationBusy)
	_, err = f.orch.Resume(context.Background(), "trip-1", "again")
	assert.ErrorIs(t, err, domain.ErrConversationBusy)

	require.NoError(t, f.orch.Cancel(context.Background(), "trip-1"))
	<-done
}

func TestOrchestrator_DuplicateID(t *testing.T) {
	f := newFixture(t, []testutils.Turn{{Fields: map[string]any{"destination": "Paris"}}}, nil)
	start(t, f, "trip-1")

	_, err := f.orch.Start(context.Background(), domain.StartRequest{ConversationID: "trip-1", Input: "again"})
	assert.ErrorIs(t, err, domain.ErrConversationExists)
}

func TestOrchestrator_Status(t *testing.T) {
	f := newFixture(t, []testutils.Turn{{Fields: map[string]any{"destination": "Paris"}}}, nil)

	_, err := f.orch.Status(context.Background(), "trip-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	start(t, f, "trip-1")
	report, err := f.orch.Status(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingInput, report.Status)
	assert.Equal(t, planner.StepNeedInput, report.PendingStep)
	assert.False(t, report.InFlight)
	assert.GreaterOrEqual(t, report.Elapsed, time.Duration(0))

	ids, err := f.orch.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"trip-1"}, ids)
}

func drain(ch <-chan domain.Event) []domain.Event {
	var events []domain.Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func TestOrchestrator_EventStream(t *testing.T) {
	f := newFixture(t, []testutils.Turn{
		{Fields: map[string]any{"destination": "Paris"}},
		{Fields: testutils.ParisTrip(), Complete: testutils.Bool(true)},
	}, nil)

	first, _ := f.orch.Subscribe("trip-1")
	start(t, f, "trip-1")
	events := drain(first)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventSuspended, events[len(events)-1].Type)

	second, _ := f.orch.Subscribe("trip-1")
	_, err := f.orch.Resume(context.Background(), "trip-1", "from NYC 15-22 Sep")
	require.NoError(t, err)
	events = append(events, drain(second)...)

	starts := 0
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq, "event %d (%s)", i, e.Type)
		assert.Equal(t, "trip-1", e.ConversationID)
		if e.Type == domain.EventStepStart {
			starts++
		}
	}
	// gather_info, need_input, then need_input, gather_info and the four fan-out/join steps.
	assert.Equal(t, 8, starts)
	assert.Equal(t, domain.EventCompleted, events[len(events)-1].Type)
}

func TestOrchestrator_EventSequenceIsCheckpointed(t *testing.T) {
	f := newFixture(t, []testutils.Turn{{Fields: map[string]any{"destination": "Paris"}}}, nil)

	events, _ := f.orch.Subscribe("trip-1")
	start(t, f, "trip-1")
	got := drain(events)
	require.NotEmpty(t, got)

	saved, err := f.store.Load(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, got[len(got)-1].Seq, saved.LastSeq)
	assert.Zero(t, f.orch.Stream().Counters())
}

func TestOrchestrator_ExpiredConversationRestartsSequence(t *testing.T) {
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	var elapsed atomic.Int64
	clock := func() time.Time { return base.Add(time.Duration(elapsed.Load())) }
	incomplete := testutils.Turn{Fields: map[string]any{"destination": "Paris"}}

	f := newFixture(t, []testutils.Turn{incomplete, incomplete, incomplete}, func(f *fixture) {
		f.store = memory.NewStore(memory.WithTTL(time.Minute), memory.WithClock(clock))
	})

	for round := range 3 {
		events, _ := f.orch.Subscribe("c1")
		out := start(t, f, "c1")
		require.Equal(t, domain.StatusAwaitingInput, out.State.Status)

		got := drain(events)
		require.NotEmpty(t, got)
		assert.Equal(t, uint64(1), got[0].Seq, "round %d", round)
		assert.Zero(t, f.orch.Stream().Counters(), "round %d", round)

		elapsed.Add(int64(2 * time.Minute))
		f.store.Sweep()
		require.Zero(t, f.store.Len())
	}
}

func TestOrchestrator_LifecycleHooks(t *testing.T) {
	var starts, finishes, failures, ends atomic.Int32
	hooks := domain.LifecycleHooks{
		OnStepStart:  func(context.Context, *domain.Event) { starts.Add(1) },
		OnStepFinish: func(context.Context, *domain.Event) { finishes.Add(1) },
		OnStepError:  func(_ context.Context, e *domain.Event) { failures.Add(1); assert.True(t, e.Degraded) },
		OnCallEnd:    func(_ context.Context, e *domain.Event) { ends.Add(1); assert.Equal(t, domain.EventCompleted, e.Type) },
	}
	f := newFixture(t, completeTrip(), func(f *fixture) {
		f.hotels.Err = errors.New("no rooms")
	}, runtime.WithLifecycleHooks(hooks))

	start(t, f, "trip-1")

	assert.EqualValues(t, 5, starts.Load())
	assert.EqualValues(t, 4, finishes.Load())
	assert.EqualValues(t, 1, failures.Load())
	assert.EqualValues(t, 1, ends.Load())
}

func noop(context.Context, *domain.ConversationState) (domain.Update, error) {
	return domain.Update{}, nil
}

func TestOrchestrator_WorkflowLogicErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *graph.Builder)
		opts  []runtime.Option
		want  string
	}{
		{
			name: "unknown route",
			build: func(b *graph.Builder) {
				b.Add("collect").Do(noop).Route(func(*domain.ConversationState) []string { return []string{"ghost"} })
				b.Add("end").Do(noop).Terminal()
			},
			want: "unknown step",
		},
		{
			name: "foreign result",
			build: func(b *graph.Builder) {
				b.Add("collect").Do(func(context.Context, *domain.ConversationState) (domain.Update, error) {
					return domain.Update{Result: &domain.Result{Provider: "hotel", Content: "x"}}, nil
				}).Owns("flight").Go("end")
				b.Add("end").Do(noop).Terminal()
			},
			want: `results["hotel"]`,
		},
		{
			name: "endless loop",
			build: func(b *graph.Builder) {
				b.Add("ping").Do(noop).Go("pong")
				b.Add("pong").Do(noop).Go("ping")
				b.Add("end").Do(noop).Terminal()
			},
			opts: []runtime.Option{runtime.WithMaxSteps(10)},
			want: "exceeded 10 steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := graph.New()
			tt.build(b)
			g, err := b.Build()
			require.NoError(t, err)

			store := memory.NewStore()
			orch := runtime.New(g, store, tt.opts...)
			out, err := orch.Start(context.Background(), domain.StartRequest{ConversationID: "c1", Input: "x"})

			require.ErrorIs(t, err, domain.ErrWorkflowLogic)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, domain.StatusFailed, out.State.Status)

			saved, err := store.Load(context.Background(), "c1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusRunning, saved.Status, "last committed checkpoint must be left as is")
		})
	}
}

type failingStore struct {
	ports.CheckpointStore
	err error
}

func (s *failingStore) Save(context.Context, string, *domain.ConversationState) error {
	return s.err
}

func TestOrchestrator_InfrastructureError(t *testing.T) {
	f := newFixture(t, completeTrip(), nil)
	g, err := planner.NewGraph(planner.Providers{
		Extractor:   f.extractor,
		Flights:     f.flights,
		Hotels:      f.hotels,
		Activities:  f.activities,
		Synthesizer: f.synth,
	})
	require.NoError(t, err)

	orch := runtime.New(g, &failingStore{CheckpointStore: f.store, err: errors.New("disk full")})
	_, err = orch.Start(context.Background(), domain.StartRequest{ConversationID: "c1", Input: "Paris"})
	require.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, f.extractor.Calls())
}

package event_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalaz-foundation/forge/pkg/event"
)

func TestPriorityOrdering(t *testing.T) {
	d := event.NewSync()

	var order []string
	require.NoError(t, d.Register("order", event.Closure(func(payload any) error {
		order = append(order, "low")
		return nil
	}), 0))
	require.NoError(t, d.Register("order", event.Closure(func(payload any) error {
		order = append(order, "high")
		return nil
	}), 100))
	require.NoError(t, d.Register("order", event.Closure(func(payload any) error {
		order = append(order, "medium")
		return nil
	}), 50))

	require.NoError(t, d.TriggerSync("order", nil))
	assert.Equal(t, []string{"high", "medium", "low"}, order)
}

func TestContinueOnError(t *testing.T) {
	d := event.NewSync()

	var ran []string
	require.NoError(t, d.Register("e", event.Closure(func(payload any) error {
		return errors.New("boom")
	}), 0))
	require.NoError(t, d.Register("e", event.Closure(func(payload any) error {
		ran = append(ran, "ran")
		return nil
	}), 0))

	require.NoError(t, d.TriggerSync("e", map[string]any{}))
	assert.Equal(t, []string{"ran"}, ran)
}

func TestStopOnError(t *testing.T) {
	d := event.NewSync()

	var ran []string
	require.NoError(t, d.Register("e", event.Closure(func(payload any) error {
		return errors.New("boom")
	}), 0))
	require.NoError(t, d.Register("e", event.Closure(func(payload any) error {
		ran = append(ran, "ran")
		return nil
	}), 0))

	err := d.TriggerSync("e", map[string]any{}, event.Options{StopOnError: true})
	assert.Error(t, err)
	assert.Empty(t, ran)
}

type unavailableDriver struct{}

func (unavailableDriver) Publish(event string, payload any, opts event.Options) error { return nil }
func (unavailableDriver) IsAvailable() bool                                           { return false }

func TestAsyncFallsBackToSyncWhenUnavailable(t *testing.T) {
	d := event.NewSync()
	d.SetAsyncDriver(unavailableDriver{})

	var got any
	require.NoError(t, d.Register("x", event.Closure(func(payload any) error {
		got = payload
		return nil
	}), 0))

	require.NoError(t, d.Trigger("x", map[string]any{"fallback": true}))
	assert.Equal(t, map[string]any{"fallback": true}, got)
}

type recordingDriver struct {
	published []string
}

func (d *recordingDriver) Publish(event string, payload any, opts event.Options) error {
	d.published = append(d.published, event)
	return nil
}
func (d *recordingDriver) IsAvailable() bool { return true }

func TestTriggerUsesAsyncWhenAvailable(t *testing.T) {
	d := event.NewSync()
	rec := &recordingDriver{}
	d.SetAsyncDriver(rec)

	fired := false
	require.NoError(t, d.Register("x", event.Closure(func(payload any) error {
		fired = true
		return nil
	}), 0))

	require.NoError(t, d.Trigger("x", nil))
	assert.False(t, fired, "listener must not run when async driver handles publication")
	assert.Equal(t, []string{"x"}, rec.published)
}

func TestTriggerSyncIgnoresAsyncConfiguration(t *testing.T) {
	d := event.NewSync()
	rec := &recordingDriver{}
	d.SetAsyncDriver(rec)

	fired := false
	require.NoError(t, d.Register("x", event.Closure(func(payload any) error {
		fired = true
		return nil
	}), 0))

	require.NoError(t, d.TriggerSync("x", nil))
	assert.True(t, fired)
	assert.Empty(t, rec.published)
}

func TestRegistryInvariants(t *testing.T) {
	d := event.NewSync()
	reg := d.SyncDriverOf()

	assert.False(t, reg.HasListeners("absent"))
	require.NoError(t, d.Register("e", event.Closure(func(any) error { return nil }), 0))
	assert.True(t, reg.HasListeners("e"))

	reg.RemoveListener("e", nil)
	assert.False(t, reg.HasListeners("e"))
}

func TestRegistryInspection(t *testing.T) {
	d := event.NewSync()
	reg := d.SyncDriverOf().Registry()

	h := event.Closure(func(any) error { return nil })
	require.NoError(t, d.Register("a", h, 10))
	require.NoError(t, d.Register("a", h, 0))
	require.NoError(t, d.Register("b", h, 0))

	assert.Equal(t, 2, reg.Count("a"))
	assert.Equal(t, 0, reg.Count("absent"))
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Events())

	meta := reg.GetWithMetadata("a")
	require.Len(t, meta, 2)
	assert.Equal(t, 10, meta[0].Priority)
	assert.Equal(t, 0, meta[1].Priority)

	reg.Clear("a")
	assert.False(t, reg.Has("a"))
	assert.True(t, reg.Has("b"))

	reg.Clear()
	assert.Empty(t, reg.Events())
}

func TestRemoveByIdentity(t *testing.T) {
	d := event.NewSync()

	var calls int
	h1 := event.Closure(func(any) error { calls++; return nil })
	h2 := event.Closure(func(any) error { calls += 100; return nil })

	require.NoError(t, d.Register("e", h1, 0))
	require.NoError(t, d.Register("e", h2, 0))

	d.Forget("e", h1)
	require.NoError(t, d.TriggerSync("e", nil))
	assert.Equal(t, 100, calls)
}

func TestDuplicateRegistrationFiresTwice(t *testing.T) {
	d := event.NewSync()
	count := 0
	h := event.Closure(func(any) error { count++; return nil })

	require.NoError(t, d.Register("e", h, 0))
	require.NoError(t, d.Register("e", h, 0))

	require.NoError(t, d.TriggerSync("e", nil))
	assert.Equal(t, 2, count)
}

func TestEmptyEventNameIsLegal(t *testing.T) {
	d := event.NewSync()
	fired := false
	require.NoError(t, d.Register("", event.Closure(func(any) error {
		fired = true
		return nil
	}), 0))

	require.NoError(t, d.TriggerSync("", nil))
	assert.True(t, fired)
}

func TestClassIdentifierResolvedEveryDispatch(t *testing.T) {
	resolver := event.NewDirectResolver()
	resolutions := 0
	resolver.Bind("MyListener", func() any {
		resolutions++
		return event.Closure(func(any) error { return nil })
	})

	d := event.New(resolver)
	require.NoError(t, d.Register("e", "MyListener", 0))

	require.NoError(t, d.TriggerSync("e", nil))
	require.NoError(t, d.TriggerSync("e", nil))
	assert.Equal(t, 2, resolutions)
}

func TestUnresolvableClassIdentifierSkippedSilently(t *testing.T) {
	d := event.New(event.NewDirectResolver())
	require.NoError(t, d.Register("e", "DoesNotExist", 0))
	assert.NoError(t, d.TriggerSync("e", nil))
}

func TestNullDriverRecording(t *testing.T) {
	nd := event.NewNullDriver(true)
	assert.True(t, nd.IsAvailable())

	require.NoError(t, nd.Publish("order.created", map[string]any{"id": 1}, event.Options{}))
	require.NoError(t, nd.Publish("order.created", map[string]any{"id": 2}, event.Options{}))
	require.NoError(t, nd.Publish("order.shipped", nil, event.Options{}))

	assert.Equal(t, 3, nd.Count())
	assert.True(t, nd.WasPublished("order.created"))
	assert.False(t, nd.WasPublished("order.cancelled"))
	assert.Len(t, nd.GetPublicationsOf("order.created"), 2)

	nd.Clear()
	assert.Equal(t, 0, nd.Count())
}

func TestNullDriverSilentDiscardsPublications(t *testing.T) {
	nd := event.NewNullDriver(false)
	require.NoError(t, nd.Publish("e", nil, event.Options{}))
	assert.Equal(t, 0, nd.Count())
}

func TestDispatcherTestHelperRecordsWithoutRunningListeners(t *testing.T) {
	d := event.NewTest()

	fired := false
	require.NoError(t, d.Register("e", event.Closure(func(any) error {
		fired = true
		return nil
	}), 0))

	require.NoError(t, d.Trigger("e", nil))
	assert.False(t, fired)

	nd, ok := d.AsyncDriver().(*event.NullDriver)
	require.True(t, ok)
	assert.True(t, nd.WasPublished("e"))
}

type subscriberListener struct {
	calls *[]string
}

func (s subscriberListener) SubscribedEvents() []string { return []string{"a", "b"} }
func (s subscriberListener) Handle(payload any) error {
	*s.calls = append(*s.calls, "handled")
	return nil
}

func TestRegisterSubscriberWiresEveryDeclaredEvent(t *testing.T) {
	d := event.NewSync()
	var calls []string
	sub := subscriberListener{calls: &calls}

	require.NoError(t, d.RegisterSubscriber(sub, 0))
	require.NoError(t, d.TriggerSync("a", nil))
	require.NoError(t, d.TriggerSync("b", nil))
	assert.Equal(t, []string{"handled", "handled"}, calls)
}

func TestReentrantDispatchDoesNotAffectCurrentIteration(t *testing.T) {
	d := event.NewSync()

	var order []string
	var second event.Handler
	second = event.Closure(func(any) error {
		order = append(order, "second")
		return nil
	})

	first := event.Closure(func(any) error {
		order = append(order, "first")
		d.Forget("e", second) // unregister mid-dispatch
		return nil
	})

	require.NoError(t, d.Register("e", first, 10))
	require.NoError(t, d.Register("e", second, 0))

	require.NoError(t, d.TriggerSync("e", nil))
	assert.Equal(t, []string{"first", "second"}, order, "snapshot taken before iteration still includes second")

	order = nil
	require.NoError(t, d.TriggerSync("e", nil))
	assert.Equal(t, []string{"first"}, order, "next dispatch observes the removal")
}

func TestObserverSeesEveryPublication(t *testing.T) {
	d := event.NewSync()

	var seen []string
	d.SetObserver(func(name string, payload any) {
		seen = append(seen, name)
	})

	require.NoError(t, d.TriggerSync("a", nil))
	require.NoError(t, d.TriggerSync("b", nil), "observer fires even with no listeners registered")

	assert.Equal(t, []string{"a", "b"}, seen)

	d.SetObserver(nil)
	require.NoError(t, d.TriggerSync("c", nil))
	assert.Equal(t, []string{"a", "b"}, seen)
}

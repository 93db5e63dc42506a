package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	client1IP = "172.16.1.1"
	client1ID = "cf068243341e4e979c35fd4fb82cea5d|" +
		"7abc6ca76820e0d693d8a22ef0bf002f2f25e5c9f937a84998572c67e097e301"

	client2IP        = "172.16.1.2"
	client2InvalidID = "id1"
	client2ValidID   = "c047287b89854bf9b64aa7a1caf359f8|" +
		"8b6dbcad94abf2e872d5a066575241127eee3636bd9d7f25f8b68bb22e34c4d1"

	client3IP = "172.16.1.3"
	client3ID = "751e636176714d45add32deea6f8931c|" +
		"90ced10358a341684e7fb2fb46ce52702e9ac32ed497b20c05c9db913e025ad0"

	client4IP  = "172.16.1.4"
	client4ID1 = "989536ffae664d0d9df62701424bedfc|" +
		"cf6134ae38f74ab595880c1e9c1442df2a24edc2e24c045cde884c8ed72a0ea8"
	client4ID2 = "d7c3ff46bc314ecfbc7268b452f24a32|" +
		"d0a21077e88fd58ccaa40a489b9221f2af4468273525e7736677f5f903ab0cef"

	client5IP = "172.16.1.5"
	client5ID = "634ecae47311413c9fd90725e08593e1|" +
		"c31f98c5bd633785b77b2706a6eee35037bcc1356c75cddbe6478e6afe0f8023"
)

// mockOracle implements CompletionOracle for testing
type mockOracle struct {
	mu        sync.Mutex
	completed map[string]bool
	calls     []string
}

func newMockOracle(completed ...string) *mockOracle {
	m := &mockOracle{completed: make(map[string]bool)}
	for _, ref := range completed {
		m.completed[ref] = true
	}
	return m
}

func (m *mockOracle) HasCompleted(ctx context.Context, taskRef string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, taskRef)
	return m.completed[taskRef]
}

func (m *mockOracle) complete(taskRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[taskRef] = true
}

func (m *mockOracle) lookups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func newTestTracker(t *testing.T, oracle CompletionOracle, opts ...Option) *Tracker {
	t.Helper()
	tr, err := New(newTestCodec(t), oracle, discardLogger(), opts...)
	require.NoError(t, err)
	return tr
}

// newFixtureTracker returns a tracker whose registry holds known callers,
// including two corrupted entries for client 5.
func newFixtureTracker(t *testing.T, opts ...Option) (*Tracker, *mockOracle) {
	t.Helper()
	oracle := newMockOracle("task_id1", "task_id4")
	tr := newTestTracker(t, oracle, opts...)
	tr.registry.records = []*ClientRecord{
		{IPAddress: client1IP, Identity: client1ID, OngoingTasks: []string{"task_id4", "task_id1"}},
		{IPAddress: client3IP, Identity: client3ID, OngoingTasks: []string{"task_id2"}},
		{IPAddress: client4IP, Identity: client4ID1, OngoingTasks: []string{"task_id5"}},
		{IPAddress: client4IP, Identity: client4ID2, OngoingTasks: []string{"task_id6"}},
		{IPAddress: client5IP, Identity: client5ID, OngoingTasks: []string{"task_id7"}, Anonymous: true},
		{IPAddress: client5IP, Identity: client5ID, OngoingTasks: []string{"task_id8"}, Anonymous: true},
	}
	return tr, oracle
}

func TestNew(t *testing.T) {
	codec := newTestCodec(t)
	oracle := newMockOracle()

	_, err := New(nil, oracle, nil)
	assert.Error(t, err)

	_, err = New(codec, nil, nil)
	assert.Error(t, err)

	_, err = New(codec, oracle, nil, WithCapacity(0))
	assert.Error(t, err)

	tr, err := New(codec, oracle, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, tr.capacity)
	assert.Equal(t, 0, tr.Len())
}

func TestAddTask(t *testing.T) {
	tests := []struct {
		name             string
		ip               string
		identity         string
		taskRef          string
		expectedStatus   Status
		expectedOngoing  []string
		expectedIdentity bool
	}{
		{
			name:           "client 1 with identity, dry run",
			ip:             client1IP,
			identity:       client1ID,
			expectedStatus: StatusCanAddTask,
		},
		{
			name:           "client 1 without identity, dry run",
			ip:             client1IP,
			expectedStatus: StatusCanAddTask,
		},
		{
			name:           "client 2 with invalid identity, dry run",
			ip:             client2IP,
			identity:       client2InvalidID,
			expectedStatus: StatusInvalidIdentity,
		},
		{
			name:           "client 2 with valid identity, dry run",
			ip:             client2IP,
			identity:       client2ValidID,
			expectedStatus: StatusCanAddTask,
		},
		{
			name:           "client 2 without identity, dry run",
			ip:             client2IP,
			expectedStatus: StatusCanAddTask,
		},
		{
			name:            "client 3 with identity, dry run",
			ip:              client3IP,
			identity:        client3ID,
			expectedStatus:  StatusTooManyTasksForIdentity,
			expectedOngoing: []string{"task_id2"},
		},
		{
			name:           "client 3 without identity, dry run",
			ip:             client3IP,
			expectedStatus: StatusTooManyTasksForIP,
		},
		{
			name:           "client 4 without identity shares an address",
			ip:             client4IP,
			expectedStatus: StatusTooManyTasksForIP,
		},
		{
			name:           "client 1 with identity, new task",
			ip:             client1IP,
			identity:       client1ID,
			taskRef:        "task_id3",
			expectedStatus: StatusTaskAdded,
		},
		{
			name:             "client 1 without identity, new task",
			ip:               client1IP,
			taskRef:          "task_id3",
			expectedStatus:   StatusTaskAdded,
			expectedIdentity: true,
		},
		{
			name:           "client 2 with valid identity, new task",
			ip:             client2IP,
			identity:       client2ValidID,
			taskRef:        "task_id3",
			expectedStatus: StatusTaskAdded,
		},
		{
			name:             "client 2 without identity, new task",
			ip:               client2IP,
			taskRef:          "task_id3",
			expectedStatus:   StatusTaskAdded,
			expectedIdentity: true,
		},
		{
			name:           "client 2 with invalid identity, new task",
			ip:             client2IP,
			identity:       client2InvalidID,
			taskRef:        "task_id3",
			expectedStatus: StatusInvalidIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newFixtureTracker(t)

			decision, err := tr.AddTask(context.Background(), tt.ip, tt.identity, tt.taskRef)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedStatus, decision.Status)
			assert.Equal(t, tt.expectedOngoing, decision.OngoingTasks)
			if tt.expectedIdentity {
				assert.NotEmpty(t, decision.NewIdentity)
				assert.True(t, tr.codec.Validate(decision.NewIdentity))
			} else {
				assert.Empty(t, decision.NewIdentity)
			}
		})
	}
}

func TestAddTaskInvalidIdentityDoesNotTouchRegistry(t *testing.T) {
	tr, oracle := newFixtureTracker(t)
	before := tr.Snapshot()

	decision, err := tr.AddTask(context.Background(), client1IP, client2InvalidID, "task_id3")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidIdentity, decision.Status)

	assert.Equal(t, before, tr.Snapshot())
	assert.Empty(t, oracle.lookups(), "no reconciliation for invalid identities")
}

func TestAddTaskDuplicateIP(t *testing.T) {
	tr, _ := newFixtureTracker(t)

	_, err := tr.AddTask(context.Background(), client5IP, "", "")
	require.ErrorIs(t, err, ErrConsistency)
	assert.Contains(t, err.Error(), "too many records for one single ip address")
}

func TestAddTaskDuplicateIdentity(t *testing.T) {
	tr, _ := newFixtureTracker(t)

	_, err := tr.AddTask(context.Background(), client5IP, client5ID, "")
	require.ErrorIs(t, err, ErrConsistency)
	assert.Contains(t, err.Error(), "too many records for one single unique id")

	var consistencyErr *ConsistencyError
	require.ErrorAs(t, err, &consistencyErr)
	assert.NotContains(t, consistencyErr.Key, client5ID, "errors must not carry full identities")
}

func TestAddTaskCustomCapacity(t *testing.T) {
	tr, _ := newFixtureTracker(t)
	decision, err := tr.AddTask(context.Background(), client3IP, client3ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusTooManyTasksForIdentity, decision.Status)
	assert.Equal(t, []string{"task_id2"}, decision.OngoingTasks)
	assert.Empty(t, decision.NewIdentity)

	tr, _ = newFixtureTracker(t, WithCapacity(2))
	decision, err = tr.AddTask(context.Background(), client3IP, client3ID, "task_id8")
	require.NoError(t, err)
	assert.Equal(t, StatusTaskAdded, decision.Status)
	assert.Nil(t, decision.OngoingTasks)
	assert.Empty(t, decision.NewIdentity)

	decision, err = tr.AddTask(context.Background(), client3IP, client3ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusTooManyTasksForIdentity, decision.Status)
	assert.Equal(t, []string{"task_id2", "task_id8"}, decision.OngoingTasks)
}

func TestAddTaskRemovesCompletedRecord(t *testing.T) {
	tr, oracle := newFixtureTracker(t)

	decision, err := tr.AddTask(context.Background(), client1IP, client1ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCanAddTask, decision.Status)

	assert.ElementsMatch(t, []string{"task_id4", "task_id1"}, oracle.lookups())
	for _, rec := range tr.Snapshot() {
		assert.NotEqual(t, client1ID, rec.Identity)
	}
	assert.Equal(t, 5, tr.Len())
}

func TestAddTaskOnlyLooksUpMatchingRecords(t *testing.T) {
	tr, oracle := newFixtureTracker(t)

	_, err := tr.AddTask(context.Background(), client3IP, client3ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"task_id2"}, oracle.lookups())
}

func TestAddTaskDecisionDoesNotAliasRegistry(t *testing.T) {
	tr, _ := newFixtureTracker(t)

	decision, err := tr.AddTask(context.Background(), client3IP, client3ID, "")
	require.NoError(t, err)
	decision.OngoingTasks[0] = "tampered"

	snapshot := tr.Snapshot()
	assert.Equal(t, []string{"task_id2"}, snapshot[1].OngoingTasks)
}

func TestDryRunDoesNotMutateRegistry(t *testing.T) {
	oracle := newMockOracle()
	tr := newTestTracker(t, oracle)
	tr.registry.records = []*ClientRecord{
		{IPAddress: client1IP, Identity: client1ID, OngoingTasks: []string{"task_id1"}},
		{IPAddress: client3IP, Identity: client3ID, OngoingTasks: []string{"task_id2"}, Anonymous: true},
	}

	calls := []struct{ ip, identity string }{
		{client1IP, client1ID},
		{client1IP, ""},
		{client2IP, client2ValidID},
		{client2IP, ""},
		{client3IP, client3ID},
		{client3IP, ""},
		{client3IP, client2InvalidID},
	}
	for _, call := range calls {
		before := tr.Snapshot()
		_, err := tr.AddTask(context.Background(), call.ip, call.identity, "")
		require.NoError(t, err)
		assert.Equal(t, before, tr.Snapshot(), "ip %s identity %q", call.ip, call.identity)
	}
}

func TestAddTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	oracle := newMockOracle()
	tr := newTestTracker(t, oracle)

	decision, err := tr.AddTask(ctx, "10.0.0.1", "", "t1")
	require.NoError(t, err)
	require.Equal(t, StatusTaskAdded, decision.Status)
	identity := decision.NewIdentity
	require.NotEmpty(t, identity)

	// Another anonymous request from the same address
	decision, err = tr.AddTask(ctx, "10.0.0.1", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusTooManyTasksForIP, decision.Status)
	assert.Nil(t, decision.OngoingTasks)

	// The caller comes back with its identity
	decision, err = tr.AddTask(ctx, "10.0.0.1", identity, "t2")
	require.NoError(t, err)
	assert.Equal(t, StatusTooManyTasksForIdentity, decision.Status)
	assert.Equal(t, []string{"t1"}, decision.OngoingTasks)

	owned, err := tr.Owns(identity, "t1")
	require.NoError(t, err)
	assert.True(t, owned)

	oracle.complete("t1")

	decision, err = tr.AddTask(ctx, "10.0.0.1", identity, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCanAddTask, decision.Status)
	assert.Equal(t, 0, tr.Len())

	decision, err = tr.AddTask(ctx, "10.0.0.1", identity, "t2")
	require.NoError(t, err)
	assert.Equal(t, StatusTaskAdded, decision.Status)
	assert.Empty(t, decision.NewIdentity)
	assert.Equal(t, []ClientRecord{
		{IPAddress: "10.0.0.1", Identity: identity, OngoingTasks: []string{"t2"}},
	}, tr.Snapshot())
}

func TestAddTaskAnonymousHolderTakesAddressQuota(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMockOracle(), WithCapacity(2))

	decision, err := tr.AddTask(ctx, "10.0.0.1", "", "t1")
	require.NoError(t, err)
	require.Equal(t, StatusTaskAdded, decision.Status)

	// Minting a second identity would create a second anonymous holder
	decision, err = tr.AddTask(ctx, "10.0.0.1", "", "t2")
	require.NoError(t, err)
	assert.Equal(t, StatusTooManyTasksForIP, decision.Status)

	// Identified neighbours are not affected
	decision, err = tr.AddTask(ctx, "10.0.0.1", client2ValidID, "t3")
	require.NoError(t, err)
	assert.Equal(t, StatusTaskAdded, decision.Status)
}

func TestAddTaskIdentifiedNeighboursUnderCapacity(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMockOracle(), WithCapacity(2))

	decision, err := tr.AddTask(ctx, "10.0.0.1", client1ID, "t1")
	require.NoError(t, err)
	require.Equal(t, StatusTaskAdded, decision.Status)

	decision, err = tr.AddTask(ctx, "10.0.0.1", "", "t2")
	require.NoError(t, err)
	assert.Equal(t, StatusTaskAdded, decision.Status)
	assert.NotEmpty(t, decision.NewIdentity)
}

func TestAddTaskUpdatesAddress(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMockOracle(), WithCapacity(2))

	decision, err := tr.AddTask(ctx, "10.0.0.1", "", "t1")
	require.NoError(t, err)
	identity := decision.NewIdentity

	decision, err = tr.AddTask(ctx, "10.0.0.2", identity, "t2")
	require.NoError(t, err)
	assert.Equal(t, StatusTaskAdded, decision.Status)

	assert.Equal(t, []ClientRecord{
		{IPAddress: "10.0.0.2", Identity: identity, OngoingTasks: []string{"t1", "t2"}},
	}, tr.Snapshot())

	// The first address is free again for anonymous callers
	decision, err = tr.AddTask(ctx, "10.0.0.1", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCanAddTask, decision.Status)
}

func TestAddTaskDuplicateTaskReference(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMockOracle(), WithCapacity(2))

	_, err := tr.AddTask(ctx, "10.0.0.1", client1ID, "t1")
	require.NoError(t, err)

	_, err = tr.AddTask(ctx, "10.0.0.1", client1ID, "t1")
	assert.ErrorIs(t, err, ErrConsistency)
	assert.Equal(t, []string{"t1"}, tr.Snapshot()[0].OngoingTasks)
}

func TestAddTaskConcurrentRequests(t *testing.T) {
	tests := []struct {
		name     string
		identity string
	}{
		{name: "same identity", identity: client1ID},
		{name: "anonymous callers on one address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t, newMockOracle())

			const callers = 32
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				admitted int
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					decision, err := tr.AddTask(context.Background(), "10.0.0.1", tt.identity, "task-"+string(rune('a'+i)))
					assert.NoError(t, err)
					if decision.Status == StatusTaskAdded {
						mu.Lock()
						admitted++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, 1, admitted)
			require.Len(t, tr.Snapshot(), 1)
			assert.Len(t, tr.Snapshot()[0].OngoingTasks, 1)
		})
	}
}

func TestOwns(t *testing.T) {
	tr, _ := newFixtureTracker(t)

	tests := []struct {
		name     string
		identity string
		taskRef  string
		owned    bool
		wantErr  bool
	}{
		{name: "own task", identity: client3ID, taskRef: "task_id2", owned: true},
		{name: "other caller's task", identity: client3ID, taskRef: "task_id5"},
		{name: "unknown identity", identity: client2ValidID, taskRef: "task_id2"},
		{name: "invalid identity", identity: client2InvalidID, taskRef: "task_id2"},
		{name: "no identity", taskRef: "task_id2"},
		{name: "no task", identity: client3ID},
		{name: "corrupted identity", identity: client5ID, taskRef: "task_id7", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owned, err := tr.Owns(tt.identity, tt.taskRef)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConsistency)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owned, owned)
		})
	}
}

func TestReleaseTask(t *testing.T) {
	tr, _ := newFixtureTracker(t)

	released, err := tr.ReleaseTask(client3ID, "task_id5")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = tr.ReleaseTask(client2InvalidID, "task_id2")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = tr.ReleaseTask(client3ID, "task_id2")
	require.NoError(t, err)
	assert.True(t, released)

	owned, err := tr.Owns(client3ID, "task_id2")
	require.NoError(t, err)
	assert.False(t, owned)
	assert.Equal(t, 5, tr.Len())

	// The caller may start a new task right away
	decision, err := tr.AddTask(context.Background(), client3IP, client3ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCanAddTask, decision.Status)
}

func TestSweep(t *testing.T) {
	oracle := newMockOracle("t1", "t3")
	tr := newTestTracker(t, oracle, WithCapacity(2))
	tr.registry.records = []*ClientRecord{
		{IPAddress: "10.0.0.1", Identity: client1ID, OngoingTasks: []string{"t1"}},
		{IPAddress: "10.0.0.2", Identity: client2ValidID, OngoingTasks: []string{"t2", "t3"}},
		{IPAddress: "10.0.0.3", Identity: client3ID, OngoingTasks: []string{"t4"}, Anonymous: true},
	}

	result, err := tr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 4, Removed: 2}, result)

	assert.Equal(t, []ClientRecord{
		{IPAddress: "10.0.0.2", Identity: client2ValidID, OngoingTasks: []string{"t2"}},
		{IPAddress: "10.0.0.3", Identity: client3ID, OngoingTasks: []string{"t4"}, Anonymous: true},
	}, tr.Snapshot())
}

func TestSweepKeepsTasksWhenLookupFails(t *testing.T) {
	lookup := &mockLookup{
		LookupFn: func(ctx context.Context, taskRef string) (TaskState, error) {
			if taskRef == "t1" {
				return StateSucceeded, nil
			}
			return "", errors.New("farm unreachable")
		},
	}
	oracle := NewStatusOracle(lookup, discardLogger(), WithFailurePolicy(FailOpen))
	tr := newTestTracker(t, oracle)
	tr.registry.records = []*ClientRecord{
		{IPAddress: "10.0.0.1", Identity: client1ID, OngoingTasks: []string{"t1"}},
		{IPAddress: "10.0.0.2", Identity: client2ValidID, OngoingTasks: []string{"t2"}},
		{IPAddress: "10.0.0.3", Identity: client3ID, OngoingTasks: []string{"t3"}, Anonymous: true},
	}

	result, err := tr.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 3, Removed: 1, Failed: 2}, result)
	assert.Equal(t, []ClientRecord{
		{IPAddress: "10.0.0.2", Identity: client2ValidID, OngoingTasks: []string{"t2"}},
		{IPAddress: "10.0.0.3", Identity: client3ID, OngoingTasks: []string{"t3"}, Anonymous: true},
	}, tr.Snapshot())

	// Admission still fails open for the caller
	decision, err := tr.AddTask(context.Background(), "10.0.0.2", client2ValidID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCanAddTask, decision.Status)
}

func TestSweepCanceledContext(t *testing.T) {
	tr := newTestTracker(t, newMockOracle("t1"))
	tr.registry.records = []*ClientRecord{
		{IPAddress: "10.0.0.1", Identity: client1ID, OngoingTasks: []string{"t1"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, tr.Len())
}

func TestTrackerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	tr, _ := newFixtureTracker(t, WithMetrics(metrics))
	ctx := context.Background()

	_, err := tr.AddTask(ctx, client3IP, client3ID, "")
	require.NoError(t, err)
	_, err = tr.AddTask(ctx, client2IP, client2InvalidID, "")
	require.NoError(t, err)
	_, err = tr.AddTask(ctx, client2IP, "", "task_id9")
	require.NoError(t, err)
	_, err = tr.AddTask(ctx, client5IP, client5ID, "")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues(string(StatusTooManyTasksForIdentity))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues(string(StatusInvalidIdentity))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues(string(StatusTaskAdded))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.consistencyErrors))
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.records))
}

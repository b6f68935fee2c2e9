// SPDX-License-Identifier: MIT

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackworks/agentmux/internal/events"
	"github.com/stackworks/agentmux/internal/store"
	"github.com/stackworks/agentmux/internal/types"
)

// writeScript installs a fake CLI binary. The real invocation passes
// "--print <task>" which the scripts ignore.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-cli")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func setupSupervisor(t *testing.T, cfg Config) (*Supervisor, *store.SessionStore, *events.SessionBroker) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := store.NewSessionStore(client, 0)
	broker := events.NewSessionBroker()
	t.Cleanup(broker.Close)

	return New(cfg, sessions, broker), sessions, broker
}

func createReq(agentID string) CreateRequest {
	return CreateRequest{
		AgentID:     agentID,
		Task:        "do x",
		WorkspaceID: "ws-1",
		ProjectID:   "prj-1",
	}
}

func collectUntilTerminated(t *testing.T, ch <-chan events.Event[events.SessionNotification]) []events.Event[events.SessionNotification] {
	t.Helper()

	var got []events.Event[events.SessionNotification]
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			got = append(got, ev)
			if ev.Type == events.EventTerminated {
				return got
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminated notification")
		}
	}
}

func TestSupervisor_SpawnToExit(t *testing.T) {
	script := writeScript(t, `echo alpha
echo beta
exit 0`)
	sup, sessions, broker := setupSupervisor(t, Config{CommandPath: script})

	ctx := context.Background()
	ch := broker.Subscribe(ctx)

	sess, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, sess.Status)
	assert.NotZero(t, sess.PID)

	got := collectUntilTerminated(t, ch)

	var outputs []*types.OutputEvent
	var exit *types.ExitStatus
	for _, ev := range got {
		switch ev.Type {
		case events.EventOutput:
			outputs = append(outputs, ev.Payload.Output)
		case events.EventTerminated:
			exit = ev.Payload.Exit
		}
	}

	require.Len(t, outputs, 3)
	assert.Equal(t, types.OutputStdout, outputs[0].Type)
	assert.Equal(t, "alpha", outputs[0].Content)
	assert.Equal(t, 1, outputs[0].LineNumber)
	assert.Equal(t, "beta", outputs[1].Content)
	assert.Equal(t, 2, outputs[1].LineNumber)
	assert.Equal(t, types.OutputExit, outputs[2].Type)
	assert.Equal(t, "Process exited with code 0, signal null", outputs[2].Content)
	assert.Equal(t, 3, outputs[2].LineNumber)

	require.NotNil(t, exit)
	assert.Zero(t, exit.Code)
	assert.Empty(t, exit.Signal)
	assert.True(t, exit.Terminated)

	// Memory and store entries are gone once the exit path completes.
	assert.Nil(t, sup.GetSession(sess.SessionID))
	assert.Nil(t, sup.GetSessionByAgent("agent-1"))
	stored, err := sessions.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSupervisor_NotificationsCarryScope(t *testing.T) {
	script := writeScript(t, `echo alpha
exit 0`)
	sup, _, broker := setupSupervisor(t, Config{CommandPath: script})

	ctx := context.Background()
	ch := broker.Subscribe(ctx)

	_, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)

	got := collectUntilTerminated(t, ch)
	require.NotEmpty(t, got)

	// Every notification names its workspace and project, so consumers can
	// route exit lines that arrive after the store record is gone without a
	// lookup.
	for _, ev := range got {
		assert.Equal(t, "ws-1", ev.Payload.WorkspaceID)
		assert.Equal(t, "prj-1", ev.Payload.ProjectID)
	}
}

func TestSupervisor_CrashEmitsCrashedNotification(t *testing.T) {
	script := writeScript(t, `echo boom >&2
exit 3`)
	sup, _, broker := setupSupervisor(t, Config{CommandPath: script})

	ctx := context.Background()
	ch := broker.Subscribe(ctx)

	_, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)

	got := collectUntilTerminated(t, ch)

	var crashed bool
	var stderrSeen bool
	for _, ev := range got {
		if ev.Type == events.EventCrashed {
			crashed = true
			assert.Equal(t, 3, ev.Payload.Exit.Code)
		}
		if ev.Type == events.EventOutput && ev.Payload.Output.Type == types.OutputStderr {
			stderrSeen = true
			assert.Equal(t, "boom", ev.Payload.Output.Content)
		}
	}
	assert.True(t, crashed)
	assert.True(t, stderrSeen)
}

func TestSupervisor_SendCommand(t *testing.T) {
	script := writeScript(t, `while read line; do echo "got $line"; done`)
	sup, _, broker := setupSupervisor(t, Config{CommandPath: script})

	ctx := context.Background()
	ch := broker.Subscribe(ctx)

	sess, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)

	require.NoError(t, sup.SendCommand(sess.SessionID, "hello"))

	var commandEv, echoEv *types.OutputEvent
	deadline := time.After(5 * time.Second)
	for commandEv == nil || echoEv == nil {
		select {
		case ev := <-ch:
			if ev.Type != events.EventOutput {
				continue
			}
			out := ev.Payload.Output
			switch {
			case out.Type == types.OutputCommand:
				commandEv = out
			case out.Type == types.OutputStdout:
				echoEv = out
			}
		case <-deadline:
			t.Fatal("timed out waiting for command echo")
		}
	}

	assert.Equal(t, "hello", commandEv.Content)
	assert.Equal(t, "got hello", echoEv.Content)

	require.NoError(t, sup.TerminateSession(ctx, sess.SessionID))
}

func TestSupervisor_SendCommandUnknownSession(t *testing.T) {
	sup, _, _ := setupSupervisor(t, Config{CommandPath: "/bin/true"})

	err := sup.SendCommand("missing", "hello")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSupervisor_ConcurrencyCap(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	sup, _, _ := setupSupervisor(t, Config{
		CommandPath:             script,
		MaxSessionsPerWorkspace: 1,
	})
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)

	_, err = sup.CreateSession(ctx, createReq("agent-2"))
	assert.ErrorIs(t, err, ErrConcurrencyExceeded)

	require.NoError(t, sup.TerminateSession(ctx, sess.SessionID))
}

func TestSupervisor_OneSessionPerAgent(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	sup, _, _ := setupSupervisor(t, Config{CommandPath: script})
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)

	_, err = sup.CreateSession(ctx, createReq("agent-1"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, sup.TerminateSession(ctx, sess.SessionID))
}

func TestSupervisor_Validation(t *testing.T) {
	sup, _, _ := setupSupervisor(t, Config{CommandPath: "/bin/true"})
	ctx := context.Background()

	req := createReq("agent-1")
	req.Task = ""
	_, err := sup.CreateSession(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	req = createReq("agent-1")
	// 36 characters but not a canonical uuid.
	req.WorkspaceID = "zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz"
	_, err = sup.CreateSession(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	req = createReq("agent-1")
	// Canonical uuids pass the shape check.
	req.WorkspaceID = "0f6a4f3c-1111-4222-8333-444455556666"
	sess, err := sup.CreateSession(ctx, req)
	require.NoError(t, err)
	require.NoError(t, sup.TerminateSession(ctx, sess.SessionID))
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	sup, _, _ := setupSupervisor(t, Config{CommandPath: "/does/not/exist"})

	_, err := sup.CreateSession(context.Background(), createReq("agent-1"))
	assert.ErrorIs(t, err, ErrSpawnFailed)
}

func TestSupervisor_TerminateUnknownIsNoop(t *testing.T) {
	sup, _, _ := setupSupervisor(t, Config{CommandPath: "/bin/true"})

	require.NoError(t, sup.TerminateSession(context.Background(), "missing"))
}

func TestSupervisor_TerminateEscalatesToKill(t *testing.T) {
	// The script ignores SIGTERM, forcing the kill path.
	script := writeScript(t, `trap '' TERM
sleep 30`)
	sup, _, _ := setupSupervisor(t, Config{
		CommandPath:    script,
		TerminateGrace: 200 * time.Millisecond,
	})
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, sup.TerminateSession(ctx, sess.SessionID))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Nil(t, sup.GetSession(sess.SessionID))
}

func TestSupervisor_TerminateAllSessions(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	sup, _, _ := setupSupervisor(t, Config{
		CommandPath:    script,
		TerminateGrace: time.Second,
	})
	ctx := context.Background()

	for _, agent := range []string{"agent-1", "agent-2", "agent-3"} {
		_, err := sup.CreateSession(ctx, createReq(agent))
		require.NoError(t, err)
	}
	require.Equal(t, 3, sup.SessionCount())

	require.NoError(t, sup.TerminateAllSessions(ctx))
	assert.Zero(t, sup.SessionCount())
}

func TestSupervisor_RingBuffersOutput(t *testing.T) {
	script := writeScript(t, `i=1
while [ $i -le 5 ]; do echo "line $i"; i=$((i+1)); done`)
	sup, _, broker := setupSupervisor(t, Config{CommandPath: script})

	ctx := context.Background()
	ch := broker.Subscribe(ctx)

	sess, err := sup.CreateSession(ctx, createReq("agent-1"))
	require.NoError(t, err)
	collectUntilTerminated(t, ch)

	// The handle is gone after exit; recent output is only served while the
	// session lives, so an unknown id yields nil.
	assert.Nil(t, sup.GetRecentOutput(sess.SessionID))
}

func TestOutputRing_EvictsOldest(t *testing.T) {
	r := newOutputRing()
	for i := 1; i <= ringCapacity+10; i++ {
		r.append(&types.OutputEvent{LineNumber: i})
	}

	assert.Equal(t, ringCapacity, r.len())
	snap := r.snapshot()
	require.Len(t, snap, ringCapacity)
	assert.Equal(t, 11, snap[0].LineNumber)
	assert.Equal(t, ringCapacity+10, snap[len(snap)-1].LineNumber)
}

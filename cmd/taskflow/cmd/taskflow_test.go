package cmd_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskflow/gateway"
	"taskflow/internal/testutil"
)

func seedTask(id, title string, complete bool, offsetSec int) gateway.Task {
	created := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Duration(offsetSec) * time.Second)
	return gateway.Task{
		ID: id, Title: title, IsComplete: complete,
		CreatedAt: &created, UpdatedAt: &updated,
		UserID: testutil.TestUser.ID,
	}
}

func TestAddCreatesTask(t *testing.T) {
	c := testutil.NewCLITest(t)

	stdout := c.MustExecute("add", "Buy milk")
	testutil.AssertContains(t, stdout, "Added task: Buy milk")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	if c.Gateway.TaskCount() != 1 {
		t.Errorf("server task count = %d", c.Gateway.TaskCount())
	}
}

func TestAddRejectsEmptyTitle(t *testing.T) {
	c := testutil.NewCLITest(t)

	stdout, stderr := c.ExecuteAndFail("add", "   ")
	testutil.AssertContains(t, stderr, "task title cannot be empty")
	testutil.AssertResultCode(t, stdout, testutil.ResultError)

	if c.Gateway.TaskCount() != 0 {
		t.Error("invalid title reached the server")
	}
}

func TestAddFailureLeavesNoTask(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.FailCreate = &gateway.GatewayError{Op: "create", Status: 500}

	stdout, _ := c.ExecuteAndFail("add", "doomed")
	testutil.AssertResultCode(t, stdout, testutil.ResultError)
}

func TestListShowsTasksNewestFirst(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(
		seedTask("task-old1", "older task", false, 1),
		seedTask("task-new1", "newer task", false, 9),
	)

	stdout := c.MustExecute("list")
	testutil.AssertContains(t, stdout, "Tasks (2 active, 0 completed):")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)

	if strings.Index(stdout, "newer task") > strings.Index(stdout, "older task") {
		t.Errorf("tasks not newest first:\n%s", stdout)
	}
}

func TestListEmpty(t *testing.T) {
	c := testutil.NewCLITest(t)

	stdout := c.MustExecute("list")
	testutil.AssertContains(t, stdout, "No tasks. Add one with: taskflow add \"My task\"")
}

func TestListFilters(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(
		seedTask("task-act1", "open item", false, 1),
		seedTask("task-done", "finished item", true, 2),
	)

	stdout := c.MustExecute("list", "--filter", "active")
	testutil.AssertContains(t, stdout, "open item")
	testutil.AssertNotContains(t, stdout, "finished item")

	stdout = c.MustExecute("list", "-f", "completed")
	testutil.AssertContains(t, stdout, "finished item")
	testutil.AssertNotContains(t, stdout, "open item")

	_, stderr := c.ExecuteAndFail("list", "--filter", "bogus")
	testutil.AssertContains(t, stderr, "unknown filter")
}

func TestListDefaultViewFromConfig(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.SetConfigValue("default_view", "completed")
	c.Gateway.Seed(
		seedTask("task-act1", "open item", false, 1),
		seedTask("task-done", "finished item", true, 2),
	)

	stdout := c.MustExecute("list")
	testutil.AssertContains(t, stdout, "finished item")
	testutil.AssertNotContains(t, stdout, "open item")
}

func TestListAliases(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "visible everywhere", false, 1))

	for _, alias := range []string{"get", "ls"} {
		stdout := c.MustExecute(alias)
		testutil.AssertContains(t, stdout, "visible everywhere")
	}
}

func TestListOfflineFallsBackToCache(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "cached item", false, 1))

	// First run populates the snapshot cache.
	c.MustExecute("list")

	c.Gateway.FailFetch = &gateway.GatewayError{Op: "fetch", Status: 503}
	stdout, stderr, exitCode := c.Execute("list")
	if exitCode != 0 {
		t.Fatalf("offline list must still render from cache, got exit %d: %s", exitCode, stderr)
	}
	testutil.AssertContains(t, stdout, "cached item")
	testutil.AssertContains(t, stderr, "could not reach server, showing cached tasks")
}

func TestListOfflineWithoutCacheFails(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.FailFetch = &gateway.GatewayError{Op: "fetch", Status: 503}

	_, _ = c.ExecuteAndFail("list")
}

func TestDoneCompletesByTitle(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "Buy milk", false, 1))

	stdout := c.MustExecute("done", "buy milk")
	testutil.AssertContains(t, stdout, "Completed task: Buy milk")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	task, ok := c.Gateway.TaskByID("task-1")
	if !ok || !task.IsComplete {
		t.Errorf("server row not completed: %+v", task)
	}
}

func TestUndoReopensTask(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "Buy milk", true, 1))

	stdout := c.MustExecute("undo", "task-1")
	testutil.AssertContains(t, stdout, "Reopened task: Buy milk")

	task, _ := c.Gateway.TaskByID("task-1")
	if task.IsComplete {
		t.Error("server row still completed")
	}
}

func TestDoneByIDPrefix(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-abcdef", "prefixed", false, 1))

	stdout := c.MustExecute("done", "task-abc")
	testutil.AssertContains(t, stdout, "Completed task: prefixed")
}

func TestDoneAmbiguousReferenceFails(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(
		seedTask("task-1", "Duplicate", false, 1),
		seedTask("task-2", "Duplicate", false, 2),
	)

	_, stderr := c.ExecuteAndFail("done", "duplicate")
	testutil.AssertContains(t, stderr, "matches multiple tasks")
}

func TestDoneMissingTaskFails(t *testing.T) {
	c := testutil.NewCLITest(t)

	_, stderr := c.ExecuteAndFail("done", "ghost")
	testutil.AssertContains(t, stderr, "no task matching 'ghost'")
}

func TestEditChangesTitle(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "old title", false, 1))

	stdout := c.MustExecute("edit", "task-1", "--title", "new title")
	testutil.AssertContains(t, stdout, "Updated task: new title")

	task, _ := c.Gateway.TaskByID("task-1")
	if task.Title != "new title" {
		t.Errorf("server title = %q", task.Title)
	}
}

func TestEditRequiresTitleFlag(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "unchanged", false, 1))

	_, stderr := c.ExecuteAndFail("edit", "task-1")
	testutil.AssertContains(t, stderr, "edit requires --title")
}

func TestRmDeletesTask(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "victim", false, 1))

	stdout := c.MustExecute("rm", "victim")
	testutil.AssertContains(t, stdout, "Deleted task: victim")

	if c.Gateway.TaskCount() != 0 {
		t.Error("server row survived delete")
	}
}

func TestRmDeleteAlias(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.Gateway.Seed(seedTask("task-1", "victim", false, 1))

	stdout := c.MustExecute("delete", "task-1")
	testutil.AssertContains(t, stdout, "Deleted task: victim")
}

func TestJSONOutput(t *testing.T) {
	c := testutil.NewCLITest(t)

	stdout := c.MustExecute("add", "json task", "--json")
	var task struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		IsComplete bool   `json:"is_complete"`
	}
	if err := json.Unmarshal([]byte(stdout), &task); err != nil {
		t.Fatalf("add --json produced invalid JSON: %v\n%s", err, stdout)
	}
	if task.Title != "json task" || task.ID == "" {
		t.Errorf("json task = %+v", task)
	}

	stdout = c.MustExecute("list", "--json")
	var list []map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &list); err != nil {
		t.Fatalf("list --json produced invalid JSON: %v\n%s", err, stdout)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 task in json list, got %d", len(list))
	}
}

func TestJSONErrorOutput(t *testing.T) {
	c := testutil.NewCLITest(t)

	stdout, _, exitCode := c.Execute("done", "ghost", "--json")
	if exitCode == 0 {
		t.Fatal("expected failure")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("error output not JSON: %v\n%s", err, stdout)
	}
	if payload["error"] == "" {
		t.Errorf("empty error payload: %v", payload)
	}
}

func TestNotSignedInFails(t *testing.T) {
	c := testutil.NewCLITestSignedOut(t)

	_, stderr := c.ExecuteAndFail("list")
	testutil.AssertContains(t, stderr, "not signed in (run 'taskflow login' first)")
}

func TestWhoami(t *testing.T) {
	c := testutil.NewCLITest(t)

	stdout := c.MustExecute("whoami")
	testutil.AssertContains(t, stdout, "test@example.com (user-1)")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)
}

func TestWhoamiSignedOutFails(t *testing.T) {
	c := testutil.NewCLITestSignedOut(t)

	_, stderr := c.ExecuteAndFail("whoami")
	testutil.AssertContains(t, stderr, "not signed in")
}

// fakeAuthServer serves the token and logout endpoints with a single
// valid account.
func fakeAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret-pw" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error_description": "Invalid login credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"user":         map[string]string{"id": "uid-1", "email": creds["email"]},
		})
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginStoresSession(t *testing.T) {
	c := testutil.NewCLITestSignedOut(t)
	srv := fakeAuthServer(t)
	c.SetRemote(srv.URL, "anon-key")

	stdout := c.MustExecute("login", "alice@example.com", "--password", "secret-pw")
	testutil.AssertContains(t, stdout, "Signed in as alice@example.com")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	stdout = c.MustExecute("whoami")
	testutil.AssertContains(t, stdout, "alice@example.com (uid-1)")
}

func TestLoginPromptsForPassword(t *testing.T) {
	c := testutil.NewCLITestSignedOut(t)
	srv := fakeAuthServer(t)
	c.SetRemote(srv.URL, "anon-key")
	c.SetPasswordInput("secret-pw")

	stdout := c.MustExecute("login", "alice@example.com")
	testutil.AssertContains(t, stdout, "Password:")
	testutil.AssertContains(t, stdout, "Signed in as alice@example.com")
}

func TestLoginBadPassword(t *testing.T) {
	c := testutil.NewCLITestSignedOut(t)
	srv := fakeAuthServer(t)
	c.SetRemote(srv.URL, "anon-key")

	_, stderr := c.ExecuteAndFail("login", "alice@example.com", "--password", "wrong-pw")
	testutil.AssertContains(t, stderr, "Invalid email or password")
}

func TestSignupPasswordMismatch(t *testing.T) {
	c := testutil.NewCLITestSignedOut(t)
	srv := fakeAuthServer(t)
	c.SetRemote(srv.URL, "anon-key")
	c.SetPasswordInput("secret-pw", "different-pw")

	_, stderr := c.ExecuteAndFail("signup", "bob@example.com")
	testutil.AssertContains(t, stderr, "passwords do not match")
}

func TestLogout(t *testing.T) {
	c := testutil.NewCLITestSignedOut(t)
	srv := fakeAuthServer(t)
	c.SetRemote(srv.URL, "anon-key")

	c.MustExecute("login", "alice@example.com", "--password", "secret-pw")

	stdout := c.MustExecute("logout")
	testutil.AssertContains(t, stdout, "Signed out.")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	stdout = c.MustExecute("logout")
	testutil.AssertContains(t, stdout, "Not signed in.")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)
}

func TestInvalidConfigFails(t *testing.T) {
	c := testutil.NewCLITest(t)
	c.SetConfigValue("default_view", "someday")

	_, stderr := c.ExecuteAndFail("list")
	testutil.AssertContains(t, stderr, "invalid default_view")
}

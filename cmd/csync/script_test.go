package main

import (
	"context"
	"os"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// runMainEnv makes the test binary behave as csync, so scripts can run the
// real command without a separate build.
const runMainEnv = "CONTENTSYNC_RUN_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(runMainEnv) == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestScripts(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("failed to locate test binary: %v", err)
	}

	engine := script.NewEngine()
	engine.Cmds["csync"] = script.Program(exe, nil, 100*time.Millisecond)

	env := []string{
		runMainEnv + "=1",
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + t.TempDir(),
		"TMPDIR=" + t.TempDir(),
		"NO_COLOR=1",
	}
	scripttest.Test(t, context.Background(), engine, env, "testdata/*.txt")
}

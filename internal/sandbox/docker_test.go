package sandbox

import "testing"

func TestWorkspaceMountsByPolicy(t *testing.T) {
	r := &containerRunner{}

	if mounts := r.workspaceMounts("/work", ReadOnly); mounts != nil {
		t.Fatalf("expected no mounts for ReadOnly, got %v", mounts)
	}

	writeMounts := r.workspaceMounts("/work", WorkspaceWrite)
	if len(writeMounts) != 1 || writeMounts[0].ReadOnly {
		t.Fatalf("expected one read-write mount, got %v", writeMounts)
	}
	if writeMounts[0].Target != "/workspace" {
		t.Fatalf("got target %q", writeMounts[0].Target)
	}

	readMounts := r.workspaceMounts("/work", WorkspaceRead)
	if len(readMounts) != 1 || !readMounts[0].ReadOnly {
		t.Fatalf("expected one read-only mount, got %v", readMounts)
	}
}

func TestTruncateHalvesSplitsEvenly(t *testing.T) {
	stdout := make([]byte, 100)
	stderr := make([]byte, 100)
	for i := range stdout {
		stdout[i] = 'a'
		stderr[i] = 'b'
	}

	gotStdout, gotStderr, truncated := truncateHalves(string(stdout), string(stderr), 120)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if len(gotStdout) > 60 || len(gotStderr) > 60 {
		t.Fatalf("got lengths %d/%d, want <= 60 each", len(gotStdout), len(gotStderr))
	}
}

func TestTruncateHalvesLeavesSmallOutputAlone(t *testing.T) {
	stdout, stderr, truncated := truncateHalves("small", "also small", maxOutputBytes)
	if truncated {
		t.Fatal("did not expect truncation")
	}
	if stdout != "small" || stderr != "also small" {
		t.Fatalf("got %q / %q", stdout, stderr)
	}
}

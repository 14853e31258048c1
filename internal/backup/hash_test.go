package backup

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestContentHash_IgnoresVolatileLines(t *testing.T) {
	a := runningConfig
	b := strings.Replace(runningConfig, "10:01:02 UTC Mon Mar 2", "23:59:59 UTC Tue Mar 3", 1)
	b = strings.Replace(b, "1234 bytes", "1240 bytes", 1)

	if ContentHash(a) != ContentHash(b) {
		t.Error("timestamps and sizes must not change the hash")
	}
	if ContentHash(a) == ContentHash(a+"vlan 10\n") {
		t.Error("a real change must change the hash")
	}
}

func TestContentHash_TrailingWhitespace(t *testing.T) {
	if ContentHash("hostname r1\r\n\n") != ContentHash("hostname r1   \n") {
		t.Error("trailing whitespace and blank lines must not change the hash")
	}
	if ContentHash("interface Gi0/1\n description x") == ContentHash("interface Gi0/1\ndescription x") {
		t.Error("indentation is significant")
	}
}

func TestReplayCommands(t *testing.T) {
	got := ReplayCommands(runningConfig)
	want := []string{"hostname core1", "interface Gi0/1", " description uplink"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestReplayCommands_HashConsistent(t *testing.T) {
	configs := []string{
		runningConfig,
		"# generated by RouterOS\n/ip address\nadd address=10.0.0.1/24 interface=ether1\n",
		"## Last commit: 2026-03-01 by admin\nset system host-name mx1\n",
	}
	for _, c := range configs {
		replayed := strings.Join(ReplayCommands(c), "\n")
		if ContentHash(replayed) != ContentHash(c) {
			t.Errorf("replayed config hashes differently:\n%s", c)
		}
	}
}

func TestReplayCommands_Empty(t *testing.T) {
	if cmds := ReplayCommands("Building configuration...\n!\n\n"); len(cmds) != 0 {
		t.Errorf("expected no commands, got %v", cmds)
	}
}

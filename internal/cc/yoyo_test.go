package cc

import "testing"

func TestYoYoSuccessIsDone(t *testing.T) {
	y := &YoYoState{}
	d := y.Next(PassOutcome{Success: true, Headers: []string{"a.h", "b.h"}}, nil)
	if d != DecisionDone {
		t.Fatalf("Decision = %v, want DecisionDone", d)
	}
	if y.SkipCount != 2 {
		t.Fatalf("SkipCount = %d, want 2", y.SkipCount)
	}
}

func TestYoYoRestartsOnNovelHeader(t *testing.T) {
	y := &YoYoState{}
	novel := func(path string) bool { return path == "gen.h" }
	d := y.Next(PassOutcome{Success: false, MissingPath: "gen.h"}, novel)
	if d != DecisionRestart {
		t.Fatalf("Decision = %v, want DecisionRestart", d)
	}
	if y.Restarts != 1 {
		t.Fatalf("Restarts = %d, want 1", y.Restarts)
	}
	if y.MG {
		t.Fatalf("MG should still be false after a plain restart")
	}
}

func TestYoYoEscalatesWhenNotNovel(t *testing.T) {
	y := &YoYoState{}
	novel := func(path string) bool { return false }
	d := y.Next(PassOutcome{Success: false, MissingPath: "missing.h"}, novel)
	if d != DecisionEscalateToMG {
		t.Fatalf("Decision = %v, want DecisionEscalateToMG", d)
	}
	if !y.MG {
		t.Fatalf("MG should be true after escalation")
	}
}

func TestYoYoHardFailsAfterMG(t *testing.T) {
	y := &YoYoState{MG: true}
	d := y.Next(PassOutcome{Success: false, MissingPath: "still-missing.h"}, nil)
	if d != DecisionHardFail {
		t.Fatalf("Decision = %v, want DecisionHardFail", d)
	}
}

package cc

import "testing"

func TestDecideRewriteOnFingerprintMismatch(t *testing.T) {
	cached := DepDbFingerprint{RuleID: "cc.compile", CompilerSum: "a", SourcePath: "x.cxx"}
	current := DepDbFingerprint{RuleID: "cc.compile", CompilerSum: "b", SourcePath: "x.cxx"}
	if DecideRewrite(cached, current, false) != Rewrite {
		t.Fatalf("expected Rewrite on compiler checksum mismatch")
	}
}

func TestDecideRevalidateWhenFingerprintMatches(t *testing.T) {
	fp := DepDbFingerprint{RuleID: "cc.compile", CompilerSum: "a", SourcePath: "x.cxx"}
	if DecideRewrite(fp, fp, false) != Revalidate {
		t.Fatalf("expected Revalidate when fingerprints match and db isn't stale")
	}
}

func TestDecideRewriteWhenDbNewerThanTarget(t *testing.T) {
	fp := DepDbFingerprint{RuleID: "cc.compile", CompilerSum: "a", SourcePath: "x.cxx"}
	if DecideRewrite(fp, fp, true) != Rewrite {
		t.Fatalf("expected Rewrite when db is newer than target even with matching fingerprint")
	}
}

func TestStaleHeader(t *testing.T) {
	if !StaleHeader(true, false) {
		t.Fatalf("expected stale when prereq mtime is newer than target")
	}
	if !StaleHeader(false, true) {
		t.Fatalf("expected stale when prereq was rematerialized this build")
	}
	if StaleHeader(false, false) {
		t.Fatalf("expected not stale when neither condition holds")
	}
}

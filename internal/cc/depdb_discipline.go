package cc

// DepDbFingerprint is the five-way key spec.md §4.1 uses to decide whether
// a dep-db must be rewritten from scratch: rule id, compiler checksum,
// environment checksum, options hash, and source path.
type DepDbFingerprint struct {
	RuleID      string
	CompilerSum string
	EnvSum      string
	OptionsHash string
	SourcePath  string
}

func (f DepDbFingerprint) equal(o DepDbFingerprint) bool {
	return f.RuleID == o.RuleID && f.CompilerSum == o.CompilerSum &&
		f.EnvSum == o.EnvSum && f.OptionsHash == o.OptionsHash && f.SourcePath == o.SourcePath
}

// RewriteDecision is what DecideRewrite concluded.
type RewriteDecision int

const (
	Revalidate RewriteDecision = iota // db stays; re-stat cached prerequisites
	Rewrite                          // db must be rewritten from the fingerprint line onward
)

// DecideRewrite implements spec.md §4.1's dep-db discipline: the db is
// rewritten when any fingerprint field differs from the last run, or when
// the db's mtime exceeds the target's mtime (meaning something touched it
// out of band since the last validated build); otherwise the cached
// prerequisite list is simply revalidated.
func DecideRewrite(cached, current DepDbFingerprint, dbNewerThanTarget bool) RewriteDecision {
	if dbNewerThanTarget || !cached.equal(current) {
		return Rewrite
	}
	return Revalidate
}

// StaleHeader reports whether cachedPrereq is newer than the target, or
// was itself rematerialized by a prior rule application this build —
// either condition schedules the TU for recompilation even though the
// db's fingerprint still matches (spec.md §4.1 "two-timestamp scheme").
func StaleHeader(prereqMtimeNewerThanTarget, prereqWasRematerialized bool) bool {
	return prereqMtimeNewerThanTarget || prereqWasRematerialized
}

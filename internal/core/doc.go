// Package core holds the record validation and deduplication engine.
//
// It has no knowledge of browsers or HTTP: web handlers, the grid batch
// runner and tests all use it the same way.
//
// # Records and rules
//
// A [TestData] is one production-configuration row. A [Validator] applies a
// declarative [RuleSet] (required, pattern, allowed values, minimum length,
// default) field by field, and a [CheckSet] adds cross-field CEL checks. The
// [Engine] combines both with a [Matcher] and a [Scoring] scheme into a
// [ValidationResult]:
//
//	eng, err := core.NewEngine(core.EngineConfigFromProfile(profile), core.NewDataset())
//	res := eng.Validate(rec)
//	if !res.IsValid {
//	    // res.Errors explains why
//	}
//
// # Dataset ownership
//
// The [Dataset] is the only place records live. Manual entry, imports and
// assistant suggestions all go through [Engine.Submit] or
// [Engine.SubmitMany], which refuse invalid records. Readers always get
// copies.
//
// # Persistence
//
// [Dataset.Save] and [Dataset.Load] use a JSON envelope with a metadata
// block. Saves are atomic and can keep a timestamped backup of the previous
// file.
package core

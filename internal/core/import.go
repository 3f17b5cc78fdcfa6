package core

import (
	"io"
)

// ImportRejection is one input record that failed validation.
type ImportRejection struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// ImportResult reports the outcome of a bulk submission.
type ImportResult struct {
	Imported int               `json:"imported"`
	Rejected []ImportRejection `json:"rejected"`
	Skipped  []int             `json:"skipped,omitempty"`
	Records  []TestData        `json:"records"`
}

// SubmitMany validates and appends each record in order. Invalid records are
// reported and do not stop the rest.
func (e *Engine) SubmitMany(recs []TestData, src Source) ImportResult {
	res := ImportResult{Rejected: []ImportRejection{}, Records: []TestData{}}
	for i, rec := range recs {
		stored, vr, err := e.Submit(rec, src)
		if err != nil {
			res.Rejected = append(res.Rejected, ImportRejection{Index: i, Errors: vr.Errors})
			continue
		}
		res.Imported++
		res.Records = append(res.Records, stored)
	}
	return res
}

// Import decodes records from r and submits them as a batch import.
func (e *Engine) Import(r io.Reader) (ImportResult, error) {
	recs, skipped, err := DecodeRecords(r)
	if err != nil {
		return ImportResult{}, err
	}
	res := e.SubmitMany(recs, SourceBatchImport)
	res.Skipped = skipped
	return res, nil
}

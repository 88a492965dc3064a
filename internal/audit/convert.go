package audit

import (
	"pii-redactor/internal/document"
	"pii-redactor/internal/stream"
)

// DocumentOf builds the audit row for a processed upload.
func DocumentOf(res *document.Result, filename, format string) DocumentRecord {
	return DocumentRecord{
		ID:          res.ID,
		Filename:    filename,
		Format:      format,
		Tier:        res.Tier,
		Pages:       len(res.Pages),
		FailedPages: len(res.FailedPages()),
		Entities:    len(res.Entities),
		Types:       res.Entities.CountByType(),
		Degraded:    res.Degraded,
	}
}

// SessionOf builds the audit row for a finished stream session.
func SessionOf(s stream.Summary) SessionRecord {
	r := SessionRecord{
		ID:            s.ID,
		Tier:          s.Tier,
		Reason:        string(s.Reason),
		Chunks:        s.Chunks,
		Timeouts:      s.Timeouts,
		Unclear:       s.Unclear,
		ContextAlerts: s.ContextAlerts,
		ContentAlerts: s.ContentAlerts,
		Types:         s.Types,
		StartedAt:     s.Started,
		EndedAt:       s.Ended,
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	return r
}

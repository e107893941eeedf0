package domain

// TranslateRequest is the payload handed to a translation executor.
type TranslateRequest struct {
	ShopID       string
	ResourceID   string
	ResourceType ResourceType
	Language     string
	Fields       map[string]string
	Params       map[string]string
}

// TranslateResult is what an executor returns for one request. SkippedFields
// lists source fields the executor left untranslated.
type TranslateResult struct {
	Fields        map[string]string
	SkippedFields []string
	QualityScore  float64
}

// Partial reports whether some fields were left untranslated.
func (r *TranslateResult) Partial() bool {
	return len(r.SkippedFields) > 0
}

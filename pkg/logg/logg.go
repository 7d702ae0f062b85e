package logg

const (
	Layer      = "layer"
	Operation  = "operation"
	Selector   = "selector"
	URL        = "url"
	TestCase   = "test_case"
	Screenshot = "screenshot"
	Hash       = "hash"
	Token      = "token"
	Route      = "route"
	Attempt    = "attempt"
)

package validation

// DefaultStopwords is an illustrative starting list; the production
// stop-word list is operator-maintained content, out of scope for this
// repository. Callers override it via
// Mechanical.WithStopwords.
var DefaultStopwords = []string{
	"б/у",
	"б.у",
	"копия",
	"реплика",
	"аналог",
}

// Package errors provides structured errors for ragsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (missing credentials, directories, bad values)
//   - 2XX: Load errors (a file or web source could not be fetched or parsed)
//   - 3XX: Retrieval errors (the vector index could not be queried)
//   - 4XX: Validation errors (malformed requests)
//   - 5XX: Ingest and internal errors
package errors

// Kind classifies an error for handling at the process or request boundary.
type Kind string

const (
	KindConfig     Kind = "CONFIG"
	KindLoad       Kind = "LOAD"
	KindRetrieval  Kind = "RETRIEVAL"
	KindValidation Kind = "VALIDATION"
	KindIngest     Kind = "INGEST"
	KindInternal   Kind = "INTERNAL"
)

// Error codes organized by kind.
const (
	// Configuration errors (100-199)
	ErrCodeConfigInvalid     = "ERR_101_CONFIG_INVALID"
	ErrCodeMissingCredential = "ERR_102_MISSING_CREDENTIAL"
	ErrCodeMissingDirectory  = "ERR_103_MISSING_DIRECTORY"

	// Load errors (200-299)
	ErrCodeLoadFailed  = "ERR_201_LOAD_FAILED"
	ErrCodeReadFailed  = "ERR_202_READ_FAILED"
	ErrCodeParseFailed = "ERR_203_PARSE_FAILED"

	// Retrieval errors (300-399)
	ErrCodeRetrievalFailed = "ERR_301_RETRIEVAL_FAILED"
	ErrCodeIndexTimeout    = "ERR_302_INDEX_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeEmptyQuestion = "ERR_402_EMPTY_QUESTION"

	// Ingest and internal errors (500-599)
	ErrCodeIngestFailed    = "ERR_501_INGEST_FAILED"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeDeleteFailed    = "ERR_503_DELETE_FAILED"
	ErrCodeInternal        = "ERR_599_INTERNAL"
)

// kindFromCode derives the kind from the numeric part of a code.
func kindFromCode(code string) Kind {
	if len(code) < 7 {
		return KindInternal
	}
	switch code[4] {
	case '1':
		return KindConfig
	case '2':
		return KindLoad
	case '3':
		return KindRetrieval
	case '4':
		return KindValidation
	case '5':
		if code == ErrCodeInternal {
			return KindInternal
		}
		return KindIngest
	default:
		return KindInternal
	}
}

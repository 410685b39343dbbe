package llm

// Kind tags the outcome of one analysis request. Callers switch on it
// instead of sniffing verdict text.
type Kind int

const (
	// KindAnalyzed means the model answered and the text carries its
	// classified verdict.
	KindAnalyzed Kind = iota
	// KindNoData means there was nothing to analyze.
	KindNoData
	// KindConfigError means credential, endpoint, or model were missing.
	KindConfigError
	// KindTimeout means the request exceeded the configured deadline.
	KindTimeout
	// KindConnectionError means the endpoint could not be reached.
	KindConnectionError
	// KindRequestError means the request failed in transport or was
	// rejected with a non-OK status.
	KindRequestError
	// KindFormatError means the response parsed but lacked the
	// expected choices/message/content fields.
	KindFormatError
	// KindParseError means the response body was not valid JSON.
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindAnalyzed:
		return "analyzed"
	case KindNoData:
		return "no_data"
	case KindConfigError:
		return "config_error"
	case KindTimeout:
		return "timeout"
	case KindConnectionError:
		return "connection_error"
	case KindRequestError:
		return "request_error"
	case KindFormatError:
		return "format_error"
	case KindParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// Fixed sentinel texts for non-analyzed outcomes. These are what gets
// persisted on records when an escalation does not produce a verdict.
const (
	TextConfigError = "analysis not configured"
	TextNoData      = "no event content to analyze"
	TextTimeout     = "analysis request timed out"
	TextConnection  = "analysis service unreachable"
	TextFormatError = "analysis response missing content"
	TextParseError  = "analysis response unreadable"
)

// Classification markers prefixed onto model verdicts.
const (
	abnormalPrefix = "suspected abnormal pattern: "
	normalPrefix   = "presumed normal: "
)

// Verdict is the outcome of one analysis request. Text always holds
// displayable, persistable content: the marked-up model verdict for
// KindAnalyzed, a fixed sentinel for everything else. Abnormal is true
// only for an analyzed verdict that hit a configured keyword.
type Verdict struct {
	Kind     Kind
	Text     string
	Abnormal bool
}

// Analyzed reports whether the model actually produced the text.
func (v Verdict) Analyzed() bool {
	return v.Kind == KindAnalyzed
}

package normalize

// englishStopwords are common English function words.
var englishStopwords = []string{
	"about", "above", "after", "again", "against", "am", "an", "and", "any", "are", "as", "at",
	"be", "because", "been", "before", "being", "below", "between", "both", "but", "by",
	"can", "could", "did", "do", "does", "doing", "down", "during",
	"each", "for", "from", "further", "had", "has", "have", "having", "he", "her", "here", "hers",
	"herself", "him", "himself", "his", "how", "if", "in", "into", "is", "it", "its", "itself",
	"me", "more", "most", "my", "myself", "no", "nor", "not", "now", "of", "off", "on", "once",
	"or", "other", "our", "ours", "ourselves", "out", "over", "own",
	"same", "she", "should", "so", "such", "than", "that", "the", "their", "theirs", "them",
	"themselves", "then", "there", "these", "they", "those", "through", "to", "too",
	"under", "until", "up", "us", "very", "was", "we", "were", "what", "when", "where", "which",
	"while", "who", "whom", "why", "will", "with", "would", "you", "your", "yours", "yourself",
	"yourselves",
}

// intentNeutralWords don't change what a query asks for.
var intentNeutralWords = []string{
	// Query verbs.
	"please", "show", "tell", "give", "get", "find", "list", "want", "need", "like",
	"display", "fetch", "retrieve", "search", "look", "see",
	// Qualifiers.
	"favorite", "favourite", "recent", "latest", "top", "best", "all", "some", "few",
	// Fillers.
	"just", "only", "basically", "actually", "really", "simply",
	// Relative time. Date ranges are resolved outside of the cache key.
	"today", "yesterday", "week", "month", "year", "last", "this",
}

func wordSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, l := range lists {
		for _, w := range l {
			set[w] = struct{}{}
		}
	}

	return set
}

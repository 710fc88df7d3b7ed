package nlp

// English stopwords. Apostrophes are already stripped by the cleaner, so
// contractions appear without them.
var stopwords = toSet(
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
	"any", "are", "arent", "as", "at", "be", "because", "been", "before", "being",
	"below", "between", "both", "but", "by", "can", "cant", "cannot", "could",
	"couldnt", "did", "didnt", "do", "does", "doesnt", "doing", "dont", "down",
	"during", "each", "few", "for", "from", "further", "had", "hadnt", "has",
	"hasnt", "have", "havent", "having", "he", "her", "here", "hers", "herself",
	"him", "himself", "his", "how", "i", "if", "im", "in", "into", "is", "isnt",
	"it", "its", "itself", "ive", "just", "lets", "me", "more", "most", "my",
	"myself", "no", "nor", "not", "of", "off", "on", "once", "only", "or",
	"other", "our", "ours", "ourselves", "out", "over", "own", "rt", "same",
	"she", "should", "shouldnt", "so", "some", "such", "than", "that", "thats",
	"the", "their", "theirs", "them", "themselves", "then", "there", "theres",
	"these", "they", "this", "those", "through", "to", "too", "under", "until",
	"up", "very", "via", "was", "wasnt", "we", "were", "werent", "what", "when",
	"where", "which", "while", "who", "whom", "why", "will", "with", "wont",
	"would", "wouldnt", "you", "youre", "your", "yours", "yourself", "yourselves",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

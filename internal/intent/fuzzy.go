package intent

// fuzzyEqual reports whether token is within one edit of the canonical term.
// Short terms must match exactly; a one-edit tolerance on three-letter words
// would accept far too much.
func fuzzyEqual(canonical, token string) bool {
	if canonical == token {
		return true
	}
	if len(canonical) < 4 {
		return false
	}
	diff := len(canonical) - len(token)
	if diff < -1 || diff > 1 {
		return false
	}
	return editDistance(canonical, token) <= 1
}

// editDistance returns the Damerau-Levenshtein distance between a and b:
// the minimum number of substitutions, insertions, deletions and adjacent
// transpositions needed to turn one into the other. A transposed or doubled
// letter therefore costs one edit, which is the typo shape this tolerates.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev2 := make([]int, lb+1)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				cur[j] = min(cur[j], prev2[j-2]+1)
			}
		}
		prev2, prev, cur = prev, cur, prev2
	}
	return prev[lb]
}

package extractor

// chunkFactor bounds how many candidates are embedded at once, as a multiple
// of the original sentence count. The number of generated pairs is quadratic
// in the per-sentence span count, so without this the embedding provider's
// peak memory would scale with the pair count rather than the batch size.
const chunkFactor = 4

// chunkCandidates splits the candidate list into consecutive chunks of at
// most maxPerChunk entries, preserving order. The last chunk may be shorter.
func chunkCandidates(cands []*candidate, maxPerChunk int) [][]*candidate {
	if len(cands) <= maxPerChunk {
		return [][]*candidate{cands}
	}
	chunks := make([][]*candidate, 0, (len(cands)+maxPerChunk-1)/maxPerChunk)
	for start := 0; start < len(cands); start += maxPerChunk {
		end := min(start+maxPerChunk, len(cands))
		chunks = append(chunks, cands[start:end])
	}
	return chunks
}

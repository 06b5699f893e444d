package main

// The bundled corpus: two short handbook documents, written to a temp
// directory at startup and ingested through the normal pipeline. The
// runbook uses form feeds so the text loader splits it into pages.

type sampleDoc struct {
	filename string
	content  string
}

var sampleDocs = []sampleDoc{
	{filename: "vector-search-primer.md", content: primerDoc},
	{filename: "operations-runbook.txt", content: runbookDoc},
}

const primerDoc = `# Vector Search Primer

## Embeddings

An embedding model maps a span of text to a point in a high-dimensional
space so that spans with similar meaning land close together. The engine
embeds every chunk of every ingested document once, at ingestion time,
and embeds each query once per search. Similarity between a query and a
chunk is the cosine of the angle between their vectors, so scores fall
in the range -1 to 1 and higher is closer.

## Chunking

Documents are split into fixed-size chunks before embedding because
embedding models degrade on long inputs and because retrieval works best
when each vector describes one idea. Each chunk overlaps its neighbour
by a configurable number of characters so that a sentence cut at a chunk
boundary still appears whole in one of the two chunks. The splitter
prefers paragraph breaks, then sentence breaks, then word breaks, and
only cuts mid-word as a last resort.

## Document headers

Alongside its chunks, every document gets a header row: a generated
title, a short summary, and an embedding of that summary. Header search
ranks whole documents instead of chunks, which answers questions like
"which document covers deployment" without drowning the caller in
fragments.

## Hybrid retrieval

Hybrid search combines both levels: it first ranks document headers for
the query, then runs a chunk search scoped to each of the best
documents. The result groups the strongest chunks under the document
they came from, which keeps answers attributable and lets a caller
expand a document for more context.

## Captioned images

Figures and diagrams carry meaning that never appears in the body text.
During ingestion a vision model writes a caption for each embedded
image, the caption is embedded like any chunk, and image search ranks
stored images by caption similarity.
`

const runbookDoc = `CORPUS ENGINE OPERATIONS RUNBOOK

Deployment

The engine ships as a single binary behind an HTTP API. It needs a
vector-capable SQL store for chunks, headers, and images, and a model
gateway for embeddings, chat, and vision. Redis is optional: without it
the engine runs with caching disabled and every search hits the store.

Configuration is read from a YAML file, then overridden by environment
variables. The embedding dimension in the configuration must match the
vector columns in the store; a mismatch surfaces as a failed insert on
the first ingestion, not at startup.
` + "\f" + `Stale search results

Search results are cached per tenant with a short TTL. Ingestion and
deletion invalidate the tenant's cache prefix, so stale results usually
mean the cache connection dropped after the search but before the
invalidation. Check the engine log for cache invalidation warnings, and
flush the tenant prefix by hand if one appears. Lowering the TTL caps
the damage; disabling the cache removes it.

Slow ingestion

Embedding dominates ingestion time. The job stream reports processed
and total chunks, so a stalled counter points at the embedding gateway
rather than the store. Rate-limited gateways back off and retry
transparently; watch for repeated retry warnings in the log.
` + "\f" + `Deleting documents

Deleting a document removes its chunks, its header, and its images, and
invalidates the tenant cache. Chunks are matched by source filename
when the header still records one, and by document id otherwise, so a
delete is safe to retry. A delete that removes no chunks reports the
document as not found.
`

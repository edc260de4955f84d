package mcpserver

// RecordFormatContract describes the record format that LLM consumers
// should follow when ingesting records.
const RecordFormatContract = `# Coherence Record Format Contract

Every record is one timestamped item of a relational stream. Its
relationships become weighted, undirected edges in the graph of the
temporal window the timestamp falls into.

## Structure

` + "```" + `json
{
  "id": "svc-auth",                      // REQUIRED – node identifier, 1-512 chars
  "timestamp": "2024-03-01T12:00:00Z",   // REQUIRED – RFC 3339
  "source": "tracing",                   // OPTIONAL
  "type": "service",                     // OPTIONAL
  "relationships": [                     // OPTIONAL
    {"target_id": "svc-db", "type": "calls", "weight": 3.5}
  ]
}
` + "```" + `

## Rules

1. **` + "`" + `id` + "`" + ` and ` + "`" + `timestamp` + "`" + ` are required.** The pair (id, timestamp) identifies a
   record; sending it twice is a no-op.
2. **Weights** are finite and non-negative. Relationships with a weight below the
   configured minimum edge weight are ignored.
3. **Repeated relationships** between the same two nodes in one window add up.
   A relationship to the record itself never contributes to a cut.
4. **Ordering.** Records may arrive unsorted within one request; they are sorted by
   timestamp before processing. Records older than the open window are rejected
   as out of order.
5. **Batches** are files with a ` + "`" + `.jsonl` + "`" + `, ` + "`" + `.ndjson` + "`" + `, ` + "`" + `.json` + "`" + `, ` + "`" + `.yaml` + "`" + ` or ` + "`" + `.yml` + "`" + `
   extension. JSON files hold one record per line or a single array; ` + "`" + `#` + "`" + ` starts a
   comment line. YAML files hold one record or a list of records per document.

## Example

` + "```" + `jsonl
{"id":"a","timestamp":"2024-03-01T12:00:00Z","relationships":[{"target_id":"b","weight":1}]}
{"id":"b","timestamp":"2024-03-01T12:00:05Z","relationships":[{"target_id":"c","weight":2}]}
` + "```" + `
`

package driver

const (
	FetchProductsQuery = `
		MATCH (p:Product {dataset: $dataset, table: $table})
		RETURN properties(p) AS props
		ORDER BY p.ordinal
	`

	FetchProductsLimitQuery = `
		MATCH (p:Product {dataset: $dataset, table: $table})
		RETURN properties(p) AS props
		ORDER BY p.ordinal
		LIMIT $limit
	`

	DeleteResultsQuery = `
		MATCH (n {dataset: $dataset, table: $table})
		WHERE n:Product OR n:DedupGroup
		DETACH DELETE n
	`

	SaveProductsQuery = `
		UNWIND $rows AS row
		CREATE (p:Product)
		SET p = row.props,
			p.dataset = $dataset,
			p.table = $table,
			p.ordinal = row.ordinal,
			p.record_id = row.record_id
		WITH p, row
		WHERE row.group_id IS NOT NULL
		MERGE (g:DedupGroup {group_id: row.group_id, dataset: $dataset, table: $table})
		CREATE (p)-[:IN_GROUP {match_type: row.match_type, confidence: row.confidence}]->(g)
	`
)

// graphTagKeys are the node properties the store adds itself; they are not source columns.
var graphTagKeys = []string{"dataset", "table", "ordinal", "record_id"}

package postgres

import (
	"fmt"

	"github.com/lib/pq"
)

// Enrichment projections. Each row is a single JSON object decoded into the
// matching domain raw record. %[1]s is the quoted schema.

const moviePayloadQuery = `
SELECT row_to_json(film)
FROM (
	SELECT
		fw.id AS uuid,
		fw.title,
		fw.description,
		fw.rating AS imdb_rating,
		fw.type,
		fw.created_at,
		fw.updated_at,
		(
			SELECT json_agg(actors ORDER BY actors.full_name)
			FROM (
				SELECT p.id AS uuid, p.full_name
				FROM %[1]s.person_film_work pfw
				JOIN %[1]s.person p ON p.id = pfw.person_id
				WHERE pfw.film_work_id = fw.id AND pfw.role = 'actor'
			) actors
		) AS actors,
		(
			SELECT json_agg(writers ORDER BY writers.full_name)
			FROM (
				SELECT p.id AS uuid, p.full_name
				FROM %[1]s.person_film_work pfw
				JOIN %[1]s.person p ON p.id = pfw.person_id
				WHERE pfw.film_work_id = fw.id AND pfw.role = 'writer'
			) writers
		) AS writers,
		(
			SELECT json_agg(p.full_name ORDER BY p.full_name)
			FROM %[1]s.person_film_work pfw
			JOIN %[1]s.person p ON p.id = pfw.person_id
			WHERE pfw.film_work_id = fw.id AND pfw.role = 'director'
		) AS director,
		(
			SELECT json_agg(g.name ORDER BY g.name)
			FROM %[1]s.genre_film_work gfw
			JOIN %[1]s.genre g ON g.id = gfw.genre_id
			WHERE gfw.film_work_id = fw.id
		) AS genre
	FROM %[1]s.film_work fw
	WHERE fw.id = ANY($1::uuid[])
) film`

const personPayloadQuery = `
SELECT row_to_json(info)
FROM (
	SELECT
		p.id AS uuid,
		p.full_name,
		(
			SELECT json_agg(films ORDER BY films.uuid)
			FROM (
				SELECT pfw.film_work_id AS uuid, json_agg(DISTINCT pfw.role) AS roles
				FROM %[1]s.person_film_work pfw
				WHERE pfw.person_id = p.id
				GROUP BY pfw.film_work_id
			) films
		) AS films
	FROM %[1]s.person p
	WHERE p.id = ANY($1::uuid[])
) info`

const genrePayloadQuery = `
SELECT row_to_json(info)
FROM (
	SELECT g.id AS uuid, g.name, g.description
	FROM %[1]s.genre g
	WHERE g.id = ANY($1::uuid[])
) info`

// pollQuery pages strictly after the checkpoint. Rows sharing the last
// timestamp of a full page but falling on the next page are not seen until
// they are modified again.
func pollQuery(schema, table string) string {
	return fmt.Sprintf(
		"SELECT id, updated_at FROM %s.%s WHERE updated_at > $1 ORDER BY updated_at LIMIT $2",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table),
	)
}

func fanOutQuery(schema, table string) string {
	return fmt.Sprintf(
		"SELECT DISTINCT film_work_id FROM %s.%s WHERE %s = ANY($1::uuid[]) ORDER BY film_work_id",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table+"_film_work"), pq.QuoteIdentifier(table+"_id"),
	)
}

func payloadQuery(schema string, template string) string {
	return fmt.Sprintf(template, pq.QuoteIdentifier(schema))
}

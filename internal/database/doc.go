// Package database provides bounded, recyclable access to PostgreSQL.
//
// The relay keeps two kinds of links:
//   - Managed links: a Pool of at most max_conns pgx connections, acquired for
//     a single unit of work and released afterwards. Links older than the
//     configured lifespan are replaced on their next acquisition.
//   - A dedicated listener link (see Dial) used by the notify package for
//     LISTEN, which must stay outside the pool for the life of the process.
package database

// auditdb manages the PostgreSQL audit journal table: create it ahead of a
// deployment, or verify an existing one is reachable and writable.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/x402svm/facilitator/internal/audit"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("AUDIT_POSTGRES_DSN"), "postgres connection string")
	create := flag.Bool("create", false, "create the audit table and indexes")
	verify := flag.Bool("verify", false, "check the audit table exists and count its rows")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("no DSN: pass -dsn or set AUDIT_POSTGRES_DSN")
	}
	if !*create && !*verify {
		log.Fatal("nothing to do: pass -create and/or -verify")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("open connection: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	fmt.Println("connected")

	if *create {
		if _, err := db.ExecContext(ctx, audit.AuditTableSchema); err != nil {
			log.Fatalf("create table: %v", err)
		}
		fmt.Printf("table %s ready\n", audit.AuditTableName)
	}

	if *verify {
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", audit.AuditTableName)
		if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			log.Fatalf("verify table: %v", err)
		}
		fmt.Printf("table %s holds %d events\n", audit.AuditTableName, count)
	}
}

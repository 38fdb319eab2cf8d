package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/term"

	"github.com/zombor/receipt-scanner/internal/receipt"
)

func main() {
	_ = godotenv.Load()

	fs := ff.NewFlagSet("receipt-user")
	var (
		dbPath = fs.StringLong("db", "receipts.db", "Database file path")
		id     = fs.StringLong("id", "", "User ID to create or update")
		plan   = fs.StringLong("plan", "free", "Plan name")
		limit  = fs.IntLong("limit", 10, "Upload limit for the plan")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *id == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: --id is required")
		os.Exit(1)
	}

	fmt.Printf("Password for %s: ", *id)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading password: %v\n", err)
		os.Exit(1)
	}

	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	user, err := receipt.UpsertUser(db, *id, strings.TrimSpace(string(password)), *plan, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		db.Close()
		os.Exit(1)
	}

	fmt.Printf("Saved %s (plan %s, %d/%d used)\n", *id, user.Plan, user.Used, user.Limit)
}

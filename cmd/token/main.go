// Command token prints a student bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"presensi/internal/auth"
	"presensi/internal/config"
)

func main() {
	student := flag.String("student", "", "student id to put in the token subject")
	flag.Parse()
	if *student == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	token, exp, err := auth.Issue(*student, auth.RoleStudent, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	log.Printf("token for %s expires %s", *student, exp.Format("2006-01-02 15:04"))
	fmt.Println(token)
}

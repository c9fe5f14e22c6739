package main

// Утилита для заведения пользователей консоли: печатает bcrypt-хеш пароля,
// который кладется в колонку users.password_hash.

import (
	"flag"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost (4..31)")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: hashpw [-cost N] <password>")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(flag.Arg(0)), *cost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}
	fmt.Println(string(hash))
}

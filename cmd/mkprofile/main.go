package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kabili207/flume-pay/pkg/ident"
	"github.com/kabili207/flume-pay/pkg/models"
	"github.com/kabili207/flume-pay/pkg/store"
)

// mkprofile seeds a device profile directly into a data directory, which is
// handy when bringing up test devices without going through the signup API.
func main() {
	dataDir := flag.String("data", "./data", "Data directory of the target device")
	username := flag.String("username", "", "Username (3-15 letters, digits or underscores)")
	firstName := flag.String("first", "", "First name")
	lastName := flag.String("last", "", "Last name")
	balance := flag.String("balance", "1000.00", "Starting balance in dollars")
	flag.Parse()

	if !models.ValidUserName(*username) {
		fmt.Fprintln(os.Stderr, "Error: username must be 3-15 letters, digits or underscores")
		os.Exit(1)
	}

	amount, err := models.ParseAmount(*balance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid balance: %v\n", err)
		os.Exit(1)
	}

	kv, err := store.NewFileKV(*dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening data directory: %v\n", err)
		os.Exit(1)
	}
	profiles := store.NewProfiles(kv)

	if existing, err := profiles.Current(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading existing profile: %v\n", err)
		os.Exit(1)
	} else if existing != nil {
		fmt.Fprintf(os.Stderr, "Error: a profile for @%s already exists in %s\n", existing.UserName, *dataDir)
		os.Exit(1)
	}

	profile := &models.UserProfile{
		UserID:    ident.NewUserID(),
		UserName:  *username,
		FirstName: *firstName,
		LastName:  *lastName,
		Balance:   amount,
		CreatedAt: time.Now().UTC(),
	}

	if err := profiles.Save(profile); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving profile: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User ID:  %s\n", profile.UserID)
	fmt.Printf("Username: @%s\n", profile.UserName)
	fmt.Printf("Balance:  $%s\n", profile.Balance)
}

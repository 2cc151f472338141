package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

// issue-token mints a student or proctor JWT for an identity that was
// verified elsewhere. Without flags on a terminal it prompts for them.
func main() {
	var (
		role   string
		userID int
		orgID  int
	)
	flag.StringVar(&role, "role", "", "Token type: student or proctor")
	flag.IntVar(&userID, "user", 0, "Student or proctor ID")
	flag.IntVar(&orgID, "org", 0, "Organization ID (proctor only)")
	flag.Parse()

	cfg := config.Load()
	authService := service.NewAuthService(cfg)

	if role == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		role, userID, orgID = prompt()
	}

	var (
		token string
		err   error
	)
	switch service.TokenType(role) {
	case service.TokenTypeStudent:
		if userID <= 0 {
			fail("student ID must be positive")
		}
		token, err = authService.GenerateStudentToken(userID)
	case service.TokenTypeProctor:
		if userID <= 0 || orgID <= 0 {
			fail("proctor and organization IDs must be positive")
		}
		token, err = authService.GenerateProctorToken(userID, orgID)
	default:
		fail("role must be student or proctor")
	}
	if err != nil {
		fail(err.Error())
	}

	// Only the token goes to stdout so the command composes in scripts.
	fmt.Println(token)
}

func prompt() (role string, userID, orgID int) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Fprintln(os.Stderr, "=== Issue Access Token ===")

	role = ask(reader, "Role (student/proctor): ")
	userID = askInt(reader, "User ID: ")
	if role == string(service.TokenTypeProctor) {
		orgID = askInt(reader, "Organization ID: ")
	}
	return role, userID, orgID
}

func ask(reader *bufio.Reader, label string) string {
	fmt.Fprint(os.Stderr, label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func askInt(reader *bufio.Reader, label string) int {
	v, err := strconv.Atoi(ask(reader, label))
	if err != nil {
		fail("expected a number")
	}
	return v
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(1)
}

// Command tg-auth generates the TG_SESSION_STRING the harvester needs.
// It can import an existing Telegram Desktop session or authenticate with a
// phone number.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session/tdesktop"
)

func main() {
	fmt.Println("=== telegram auth tool ===")
	fmt.Println("generates a session string for the harvester")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	accounts, tdataPath := findDesktopSessions(reader)
	apiID, apiHash := getAPICredentials(reader)

	var client *gotgproto.Client
	var err error

	if len(accounts) > 0 && chooseDesktopAuth(reader, len(accounts), tdataPath) {
		client, err = authWithTData(apiID, apiHash, accounts, reader)
	} else {
		client, err = authWithPhone(apiID, apiHash, reader)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	sessionString, err := client.ExportStringSession()
	if err != nil {
		fmt.Printf("error exporting session: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	fmt.Println("\nyour session string:")
	fmt.Println("---")
	fmt.Println(sessionString)
	fmt.Println("---")
	fmt.Println("\nset this as TG_SESSION_STRING in your environment or .env file")
	fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
}

// findDesktopSessions looks for Telegram Desktop accounts in the default
// location, then at a user-supplied path.
func findDesktopSessions(reader *bufio.Reader) ([]tdesktop.Account, string) {
	tdataPath := telegramDesktopPath()
	accounts, err := tdesktop.Read(tdataPath, nil)
	if err == nil && len(accounts) > 0 {
		return accounts, tdataPath
	}

	fmt.Printf("no telegram desktop session at: %s\n", tdataPath)
	fmt.Print("enter telegram desktop path (or press enter to skip): ")
	customPath, _ := reader.ReadString('\n')
	customPath = strings.TrimSpace(customPath)
	if customPath == "" {
		return nil, ""
	}

	if !strings.HasSuffix(customPath, "tdata") {
		customPath = filepath.Join(customPath, "tdata")
	}
	accounts, err = tdesktop.Read(customPath, nil)
	if err != nil {
		return nil, ""
	}
	return accounts, customPath
}

func chooseDesktopAuth(reader *bufio.Reader, count int, tdataPath string) bool {
	fmt.Printf("\ndetected %d telegram desktop session(s) at: %s\n", count, tdataPath)
	fmt.Println()
	fmt.Println("choose authentication method:")
	fmt.Println("  1. use telegram desktop session (recommended)")
	fmt.Println("  2. authenticate with phone number (sms/code)")
	fmt.Print("\nenter choice [1]: ")

	choice, _ := reader.ReadString('\n')
	return strings.TrimSpace(choice) != "2"
}

func telegramDesktopPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default: // linux
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// getAPICredentials reads API ID and Hash from env or prompts user
func getAPICredentials(reader *bufio.Reader) (int, string) {
	apiIDStr := os.Getenv("TG_API_ID")
	apiHash := os.Getenv("TG_API_HASH")

	if apiIDStr == "" {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		apiIDStr, _ = reader.ReadString('\n')
		apiIDStr = strings.TrimSpace(apiIDStr)
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		apiHash, _ = reader.ReadString('\n')
		apiHash = strings.TrimSpace(apiHash)
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		fmt.Printf("error: invalid api_id: %v\n", err)
		os.Exit(1)
	}

	return apiID, apiHash
}

// authWithTData authenticates using a Telegram Desktop session
func authWithTData(apiID int, apiHash string, accounts []tdesktop.Account, reader *bufio.Reader) (*gotgproto.Client, error) {
	idx := 0
	if len(accounts) > 1 {
		fmt.Printf("\nfound %d telegram accounts\n", len(accounts))
		fmt.Print("select account number [1]: ")
		choice, _ := reader.ReadString('\n')
		if n, err := strconv.Atoi(strings.TrimSpace(choice)); err == nil && n >= 1 && n <= len(accounts) {
			idx = n - 1
		}
	}

	fmt.Println("\nauthenticating with telegram desktop session...")

	return gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(accounts[idx]).Name("tdata_session"),
			DisableCopyright: true,
		},
	)
}

// authWithPhone authenticates using phone number (SMS/code)
func authWithPhone(apiID int, apiHash string, reader *bufio.Reader) (*gotgproto.Client, error) {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for code)")

	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open("tg_session")),
			DisableCopyright: true,
		},
	)

	if err == nil {
		fmt.Println("\nnote: tg_session.db was created for temporary storage.")
		fmt.Println("you can delete it after copying the session string.")
	}

	return client, err
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"clothscan/pkg/auth"
	"clothscan/pkg/ui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Instagram credentials",
	Long: `Manage stored Instagram session cookies.

Credentials are stored in the system keychain when available and in an
encrypted file under the user config directory. CLOTHSCAN_SESSION_ID and
CLOTHSCAN_CSRF_TOKEN always take precedence.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store Instagram session cookies",
	Long: `Store Instagram session cookies for later ingest runs.

You will be prompted for the sessionid and csrftoken cookies of a logged-in
browser session. Both are read without echo.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <username>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts with masked credentials",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var switchCmd = &cobra.Command{
	Use:   "switch <username>",
	Short: "Make a stored account the default",
	Long: `Make a stored account the default one used when --account is not given.
The default account is the most recently modified one.`,
	Args: cobra.ExactArgs(1),
	RunE: runSwitch,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(switchCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		username, err = prompt(reader, "Instagram username: ")
		if err != nil {
			return err
		}
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	if existing, _ := manager.Retrieve(username); existing != nil {
		answer, _ := prompt(reader, fmt.Sprintf("Account '%s' already exists. Update credentials? (y/N): ", username))
		if !strings.HasPrefix(strings.ToLower(answer), "y") {
			return nil
		}
	}

	fmt.Print("sessionid cookie value: ")
	sessionID, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}
	fmt.Print("csrftoken cookie value: ")
	csrfToken, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read csrf token: %w", err)
	}
	userAgent, _ := prompt(reader, "User agent (press Enter for default): ")

	account := &auth.Account{
		Username:     username,
		SessionID:    sessionID,
		CSRFToken:    csrfToken,
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Account saved: %s", username))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "use 'clothscan auth login' to add one")
		return nil
	}

	out := cmd.OutOrStdout()
	for i, account := range accounts {
		s := auth.SanitizeAccount(account)
		fmt.Fprintf(out, "%d. %s\n", i+1, s.Username)
		fmt.Fprintf(out, "   Session ID: %s\n", s.SessionID)
		fmt.Fprintf(out, "   CSRF Token: %s\n", s.CSRFToken)
		if s.UserAgent != "" {
			fmt.Fprintf(out, "   User Agent: %s\n", s.UserAgent)
		}
		fmt.Fprintf(out, "   Last Modified: %s\n", s.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSwitch(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	account, err := manager.Retrieve(args[0])
	if err != nil {
		return err
	}
	account.LastModified = time.Now()
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	ui.PrintSuccess("Default account: " + account.Username)
	return nil
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

// readPassword reads a line without echo when stdin is a terminal
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

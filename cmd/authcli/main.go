// Command authcli walks through the signup and password reset flows
// against a running server from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"storefront-auth/internal/client"
	"storefront-auth/internal/flow"
	"strings"
	"syscall"

	"golang.org/x/term"
)

type prompter struct {
	reader *bufio.Reader
}

func (p *prompter) line(prompt string) (string, error) {
	fmt.Print(prompt)
	input, err := p.reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// password reads without echo when stdin is a terminal.
func (p *prompter) password(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return p.line(prompt)
	}

	fmt.Print(prompt)
	passwordBytes, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "auth server base URL")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := client.New(*serverURL)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	if err := api.FetchCSRFToken(ctx); err != nil {
		fmt.Println("Error connecting to server:", err)
		os.Exit(1)
	}

	p := &prompter{reader: bufio.NewReader(os.Stdin)}

	fmt.Println("===== Storefront Account =====")
	fmt.Println("1. Create account")
	fmt.Println("2. Reset password")
	option, err := p.line("Choose an option: ")
	if err != nil {
		os.Exit(1)
	}

	mode := flow.ModeSignup
	if option == "2" {
		mode = flow.ModeForgotPassword
	}

	c := flow.NewController(api, mode)
	if err := run(ctx, c, p); err != nil {
		fmt.Println("Error:", describe(err))
		os.Exit(1)
	}

	if mode == flow.ModeSignup {
		if me, err := api.Me(ctx); err == nil {
			fmt.Printf("Welcome, %s %s! You are signed in as %s.\n", me.FirstName, me.LastName, me.Email)
			return
		}
		fmt.Println("Account created. Please sign in.")
		return
	}
	fmt.Println("Password updated. Please sign in with your new password.")
}

func run(ctx context.Context, c *flow.Controller, p *prompter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch c.State() {
		case flow.StateCollectingDetails:
			err = collectDetails(ctx, c, p)
		case flow.StateOTPSent:
			err = collectCode(ctx, c, p)
		case flow.StateVerified:
			err = finish(ctx, c, p)
		case flow.StateComplete:
			return nil
		}

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return err
			}
			if client.IsCode(err, client.CodeEmailAlreadyRegistered) {
				return err
			}
			fmt.Println(describe(err))
		}
	}
}

func collectDetails(ctx context.Context, c *flow.Controller, p *prompter) error {
	var d flow.Details
	var err error

	if d.Email, err = p.line("Email: "); err != nil {
		return err
	}

	if c.Mode() == flow.ModeSignup {
		if d.FirstName, err = p.line("First name: "); err != nil {
			return err
		}
		if d.LastName, err = p.line("Last name: "); err != nil {
			return err
		}
		if d.Password, err = p.password("Password: "); err != nil {
			return err
		}
		if d.ConfirmPassword, err = p.password("Confirm password: "); err != nil {
			return err
		}
	}

	if ok, err := c.Resume(ctx, d); err == nil && ok {
		fmt.Printf("A code was already sent to %s. It expires in %s.\n", c.Email(), flow.FormatCountdown(c.Countdown().Remaining()))
		return nil
	}

	if err := c.SubmitDetails(ctx, d); err != nil {
		return err
	}
	announceCode(c)
	return nil
}

func announceCode(c *flow.Controller) {
	if c.EmailSent() {
		fmt.Printf("We sent a 6-digit code to %s.\n", c.Email())
	} else {
		fmt.Printf("If an account exists for %s, a 6-digit code is on its way.\n", c.Email())
	}
	if code := c.DevOTP(); code != "" {
		fmt.Println("Development code:", code)
	}
	fmt.Printf("Code expires in %s.\n", flow.FormatCountdown(c.Countdown().Remaining()))
}

func collectCode(ctx context.Context, c *flow.Controller, p *prompter) error {
	input, err := p.line(fmt.Sprintf("[%s] Enter code, (r)esend or (b)ack: ", flow.FormatCountdown(c.Countdown().Remaining())))
	if err != nil {
		return err
	}

	switch strings.ToLower(input) {
	case "r", "resend":
		if err := c.Resend(ctx); err != nil {
			return err
		}
		announceCode(c)
		return nil
	case "b", "back":
		return c.Back()
	}

	c.SetCode(input)
	if !c.CanSubmitCode() {
		fmt.Println("Please enter exactly 6 digits.")
		return nil
	}
	if c.Countdown().Expired() {
		fmt.Println("Your code may have expired. Type r to get a new one.")
	}
	return c.SubmitCode(ctx)
}

func finish(ctx context.Context, c *flow.Controller, p *prompter) error {
	if c.Mode() == flow.ModeForgotPassword {
		password, err := p.password("New password: ")
		if err != nil {
			return err
		}
		confirm, err := p.password("Confirm new password: ")
		if err != nil {
			return err
		}
		if err := c.SetNewPassword(password, confirm); err != nil {
			return err
		}
	}
	return c.Complete(ctx)
}

func describe(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

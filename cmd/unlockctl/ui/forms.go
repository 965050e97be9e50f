package ui

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/charmbracelet/huh"
)

// NewAccount is the data collected by the create-user form.
type NewAccount struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      string
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// RunCreateUserForm asks for the details of a pre-verified account.
func RunCreateUserForm() (*NewAccount, error) {
	var acc NewAccount

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("First name").
				Value(&acc.FirstName).
				Validate(required("first name")),

			huh.NewInput().
				Title("Last name").
				Value(&acc.LastName).
				Validate(required("last name")),

			huh.NewInput().
				Title("Email").
				Placeholder("name@example.com").
				Value(&acc.Email).
				Validate(func(s string) error {
					if _, err := mail.ParseAddress(strings.TrimSpace(s)); err != nil {
						return fmt.Errorf("email address is invalid")
					}
					return nil
				}),

			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&acc.Password).
				Validate(required("password")),

			huh.NewSelect[string]().
				Title("Role").
				Options(
					huh.NewOption("Client", "client"),
					huh.NewOption("Affiliate", "affiliate"),
				).
				Value(&acc.Role),
		),
	).WithTheme(huh.ThemeCatppuccin())

	if err := form.Run(); err != nil {
		return nil, err
	}

	return &acc, nil
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(title, description string) (bool, error) {
	var ok bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	).WithTheme(huh.ThemeCatppuccin())

	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}

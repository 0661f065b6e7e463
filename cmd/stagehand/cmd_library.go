package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"stagehand/internal/narrative"
)

// listCmd lists the narratives in the library.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List narratives in the library",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(context.Background())
		if err != nil {
			return err
		}
		defer a.close()

		names := a.library.Names()
		if len(names) == 0 {
			fmt.Println(dimStyle.Render("library is empty"))
			return nil
		}

		for _, name := range names {
			n, err := a.library.Load(name)
			if err != nil {
				fmt.Printf("%s  %s\n", name, errStyle.Render(err.Error()))
				continue
			}
			fmt.Println(renderNarrativeSummary(n))
		}
		return nil
	},
}

// validateCmd checks narrative documents without executing anything.
var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate narrative documents",
	Long: `Parses and validates narrative YAML documents. With no arguments the
whole library directory is validated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return validateLibrary()
		}

		failed := 0
		for _, path := range args {
			n, err := narrative.ParseFile(path)
			if err != nil {
				failed++
				fmt.Printf("%s %s: %v\n", errStyle.Render("FAIL"), path, err)
				continue
			}
			fmt.Printf("%s %s (%s, %d acts)\n", okStyle.Render("OK"), path, n.Name, len(n.TOC))
		}
		if failed > 0 {
			return fmt.Errorf("%d document(s) failed validation", failed)
		}
		return nil
	},
}

func validateLibrary() error {
	a, err := buildApp(context.Background())
	if err != nil {
		return err
	}
	defer a.close()

	failed := 0
	for _, name := range a.library.Names() {
		n, err := a.library.Load(name)
		if err != nil {
			failed++
			fmt.Printf("%s %s: %v\n", errStyle.Render("FAIL"), name, err)
			continue
		}
		fmt.Printf("%s %s (%d acts)\n", okStyle.Render("OK"), n.Name, len(n.TOC))
	}
	if failed > 0 {
		return fmt.Errorf("%d narrative(s) failed validation", failed)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/voicechat/internal/proto"
	"github.com/vovakirdan/voicechat/internal/session"
)

func newRegisterCmd(flags *globalFlags) *cobra.Command {
	var req proto.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(flags, false)
			if err != nil {
				return err
			}
			tok, err := e.client.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			return startSession(cmd, e, tok)
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "username")
	cmd.Flags().StringVar(&req.Email, "email", "", "email")
	cmd.Flags().StringVar(&req.Password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(flags, false)
			if err != nil {
				return err
			}
			tok, err := e.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			return startSession(cmd, e, tok)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(flags, false)
			if err != nil {
				return err
			}
			if e.sess != nil {
				e.sess.Clear()
			}
			if err := session.Remove(e.cfg.SessionFile); err != nil && !errors.Is(err, session.ErrNoSession) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func startSession(cmd *cobra.Command, e *env, tok proto.Token) error {
	sess := session.New(tok)
	if err := sess.Save(e.cfg.SessionFile); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	e.client.SetSession(sess)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	me, err := e.client.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", me.Username, me.ID)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/listing"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/remote"
	"github.com/spf13/cobra"
)

const (
	flagClaim     = "claim"
	flagChannel   = "channel"
	flagStatus    = "status"
	flagPages     = "pages"
	flagNickname  = "nickname"
	flagAvatarURL = "avatar-url"
	flagLatitude  = "lat"
	flagLongitude = "lon"
	flagRadius    = "radius"
)

// ensureSession signs in when no session is held. The claim workflow does
// this on its own; the remote bindings leave it to the caller.
func (app *application) ensureSession(ctx context.Context) error {
	if app.session.Authenticated() {
		return nil
	}
	return app.login.Authenticate(ctx)
}

func (app *application) print(value any) error {
	encoder := json.NewEncoder(app.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func newLoginCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.login.Authenticate(cmd.Context()); err != nil {
				return err
			}
			identity, _ := app.session.Identity()
			return app.print(identity)
		},
	}
}

func newLogoutCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.client.Logout(cmd.Context())
		},
	}
}

func newScanCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read a voucher code from standard input and resolve it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := app.workflow.Scan(cmd.Context())
			if err != nil {
				return err
			}
			return app.confirm(cmd, order)
		},
	}
	cmd.Flags().Bool(flagClaim, false, "claim the resolved order without a second step")
	return cmd
}

func newResolveCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <code>",
		Short: "Resolve a voucher code into a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := app.workflow.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.confirm(cmd, order)
		},
	}
	cmd.Flags().Bool(flagClaim, false, "claim the resolved order without a second step")
	return cmd
}

func (app *application) confirm(cmd *cobra.Command, order claim.ClaimableOrder) error {
	claimNow, err := cmd.Flags().GetBool(flagClaim)
	if err != nil {
		return err
	}
	if !claimNow {
		return app.print(order)
	}
	settlement, err := app.workflow.Claim(cmd.Context(), order.OrderID)
	if err != nil {
		return err
	}
	return app.print(settlement)
}

func newClaimCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <order-id>",
		Short: "Claim a pending order into the wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settlement, err := app.workflow.Claim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.print(settlement)
		},
	}
}

func newOrderCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "order <order-id>",
		Short: "Show the current state of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			order, err := app.workflow.RefreshOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.print(order)
		},
	}
}

func newWalletCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show the wallet balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			wallet, err := app.workflow.RefreshWallet(cmd.Context())
			if err != nil {
				return err
			}
			return app.print(wallet)
		},
	}
}

func newWithdrawCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Withdraw an amount in yuan, e.g. 12.50",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := claim.ParseCents(args[0])
			if err != nil {
				return err
			}
			channelName, err := cmd.Flags().GetString(flagChannel)
			if err != nil {
				return err
			}
			channel, err := claim.ParseChannel(channelName)
			if err != nil {
				return err
			}
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			receipt, err := app.workflow.SubmitWithdrawal(cmd.Context(), amount, channel)
			if err != nil {
				return err
			}
			return app.print(receipt)
		},
	}
	cmd.Flags().String(flagChannel, string(claim.ChannelWeChat), "payout channel (wechat or alipay)")
	return cmd
}

func newOrdersCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List the order history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := cmd.Flags().GetString(flagStatus)
			if err != nil {
				return err
			}
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			history, err := remote.NewOrderHistory(app.api, app.cfg.PageSize)
			if err != nil {
				return err
			}
			page, err := loadPages(cmd, history, listing.Filter{remote.FilterStatus: status})
			if err != nil {
				return err
			}
			return app.print(page.Items)
		},
	}
	cmd.Flags().String(flagStatus, "", "status filter: pending, claimed, expired, anomalous or 0-3")
	cmd.Flags().Int(flagPages, 1, "number of pages to load")
	return cmd
}

func newRecordsCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List wallet ledger records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			ledger, err := remote.NewWalletLedger(app.api, app.cfg.PageSize)
			if err != nil {
				return err
			}
			page, err := loadPages(cmd, ledger, nil)
			if err != nil {
				return err
			}
			return app.print(page.Items)
		},
	}
	cmd.Flags().Int(flagPages, 1, "number of pages to load")
	return cmd
}

// loadPages loads page 1 and keeps appending until the requested page count
// is reached or the listing runs out.
func loadPages[T any](cmd *cobra.Command, paginator *listing.Paginator[T], filter listing.Filter) (listing.Page[T], error) {
	pages, err := cmd.Flags().GetInt(flagPages)
	if err != nil {
		return listing.Page[T]{}, err
	}
	page, err := paginator.Load(cmd.Context(), filter)
	if err != nil {
		return page, err
	}
	for loaded := 1; loaded < pages && page.HasMore; loaded++ {
		page, err = paginator.LoadMore(cmd.Context())
		if err != nil {
			return page, err
		}
	}
	return page, nil
}

func newStatsCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate recycling figures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			stats, err := app.api.OrderStats(cmd.Context())
			if err != nil {
				return err
			}
			return app.print(stats)
		},
	}
}

func newTrackCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "track <order-id>",
		Short: "Show the event history of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			events, err := app.api.TrackOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.print(events)
		},
	}
}

func newProfileCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nickname, err := cmd.Flags().GetString(flagNickname)
			if err != nil {
				return err
			}
			avatarURL, err := cmd.Flags().GetString(flagAvatarURL)
			if err != nil {
				return err
			}
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			var profile remote.Profile
			if nickname == "" && avatarURL == "" {
				profile, err = app.api.Profile(cmd.Context())
			} else {
				profile, err = app.api.UpdateProfile(cmd.Context(), remote.ProfileUpdate{Nickname: nickname, AvatarURL: avatarURL})
			}
			if err != nil {
				return err
			}
			return app.print(profile)
		},
	}
	cmd.Flags().String(flagNickname, "", "new nickname")
	cmd.Flags().String(flagAvatarURL, "", "new avatar URL")
	return cmd
}

func newVerifyCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <real-name> <id-card>",
		Short: "Submit identity verification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.ensureSession(cmd.Context()); err != nil {
				return err
			}
			if err := app.api.VerifyIdentity(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(app.out, "verification submitted")
			return nil
		},
	}
}

func newDevicesCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Look up collection devices",
	}

	nearby := &cobra.Command{
		Use:   "nearby",
		Short: "List devices near a position, nearest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			latitude, err := cmd.Flags().GetFloat64(flagLatitude)
			if err != nil {
				return err
			}
			longitude, err := cmd.Flags().GetFloat64(flagLongitude)
			if err != nil {
				return err
			}
			radius, err := cmd.Flags().GetInt(flagRadius)
			if err != nil {
				return err
			}
			devices, err := app.api.NearbyDevices(cmd.Context(), fixedLocation{Latitude: latitude, Longitude: longitude}, radius)
			if err != nil {
				return err
			}
			return app.print(devices)
		},
	}
	nearby.Flags().Float64(flagLatitude, 0, "latitude")
	nearby.Flags().Float64(flagLongitude, 0, "longitude")
	nearby.Flags().Int(flagRadius, 0, "search radius in meters")
	_ = nearby.MarkFlagRequired(flagLatitude)
	_ = nearby.MarkFlagRequired(flagLongitude)

	search := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Match devices by name or address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := app.api.SearchDevices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.print(devices)
		},
	}

	info := &cobra.Command{
		Use:   "info <device-id>",
		Short: "Show pricing and fill level of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			device, err := app.api.Device(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.print(device)
		},
	}

	cmd.AddCommand(nearby, search, info)
	return cmd
}

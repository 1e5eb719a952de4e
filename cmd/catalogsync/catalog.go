package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/catalogsync/internal/model"
	"github.com/vonshlovens/catalogsync/internal/syncqueue"
)

func playlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlist",
		Short: "List and edit catalog playlists",
		Long:  `Edits playlists in the catalog. Edits to playlists imported from a media server are queued for replay to that server.`,
	}
	cmd.AddCommand(playlistListCmd(), playlistAddCmd(), playlistRemoveCmd(), playlistDeleteCmd())
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// loadPlaylist resolves a playlist id argument
func (e *env) loadPlaylist(ctx context.Context, arg string) (*model.Playlist, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	pl, err := e.db.Playlist(ctx, id)
	if err != nil {
		return nil, err
	}
	if pl == nil {
		return nil, fmt.Errorf("playlist %d not found", id)
	}
	return pl, nil
}

// loadSongs resolves song path arguments
func (e *env) loadSongs(ctx context.Context, paths []string) ([]model.Song, error) {
	songs := make([]model.Song, 0, len(paths))
	for _, path := range paths {
		s, err := e.db.SongByPath(ctx, path)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fmt.Errorf("song %q not found", path)
		}
		songs = append(songs, *s)
	}
	return songs, nil
}

func songIDs(songs []model.Song) []int64 {
	ids := make([]int64, len(songs))
	for i, s := range songs {
		ids[i] = s.ID
	}
	return ids
}

func playlistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [playlist-id]",
		Short: "List playlists, or the songs of one playlist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if len(args) == 0 {
				playlists, err := e.db.Playlists(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "ID\tNAME\tPROVIDER\tEXTERNAL ID")
				for _, pl := range playlists {
					ext := ""
					if pl.ExternalID != nil {
						ext = *pl.ExternalID
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", pl.ID, pl.Name, pl.ProviderType, ext)
				}
				return tw.Flush()
			}

			pl, err := e.loadPlaylist(ctx, args[0])
			if err != nil {
				return err
			}
			members, err := e.db.PlaylistSongs(ctx, pl.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s, %d songs)\n", pl.Name, pl.ProviderType, len(members))
			fmt.Fprintln(tw, "#\tTITLE\tARTIST\tPATH")
			for _, m := range members {
				artist := m.Song.AlbumArtist
				if len(m.Song.Artists) > 0 {
					artist = m.Song.Artists[0]
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Position+1, m.Song.Title, artist, m.Song.Path)
			}
			return tw.Flush()
		},
	}
}

func playlistAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <playlist-id> <song-path>...",
		Short: "Append songs to a playlist",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editPlaylist(args, syncqueue.OpAddSongs)
		},
	}
}

func playlistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <playlist-id> <song-path>...",
		Short: "Remove songs from a playlist",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editPlaylist(args, syncqueue.OpRemoveSongs)
		},
	}
}

func editPlaylist(args []string, opType syncqueue.OpType) error {
	ctx := context.Background()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	pl, err := e.loadPlaylist(ctx, args[0])
	if err != nil {
		return err
	}
	songs, err := e.loadSongs(ctx, args[1:])
	if err != nil {
		return err
	}

	switch opType {
	case syncqueue.OpAddSongs:
		if err := e.db.AddToPlaylist(ctx, pl.ID, songIDs(songs)); err != nil {
			return err
		}
	case syncqueue.OpRemoveSongs:
		n, err := e.db.RemoveFromPlaylist(ctx, pl.ID, songIDs(songs))
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Println("No matching songs in playlist.")
			return nil
		}
	}

	op, err := e.tracker().RecordLocalChange(ctx, *pl, opType, songs)
	if err != nil {
		return err
	}
	if op != nil {
		fmt.Printf("Playlist updated; change queued for %s as operation %d.\n", pl.ProviderType, op.ID)
	} else {
		fmt.Println("Playlist updated.")
	}
	return nil
}

func playlistDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <playlist-id>",
		Short: "Delete a playlist from the catalog",
		Long:  `Deletes a playlist and its queued operations from the catalog. The playlist is not deleted on the media server and comes back on the next import from it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			pl, err := e.loadPlaylist(ctx, args[0])
			if err != nil {
				return err
			}
			if err := e.db.DeletePlaylist(ctx, pl.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted playlist %q.\n", pl.Name)
			return nil
		},
	}
}

func songCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "song",
		Short: "Manage catalog songs",
	}
	cmd.AddCommand(songExcludeCmd(true), songExcludeCmd(false))
	return cmd
}

func songExcludeCmd(exclude bool) *cobra.Command {
	use, short := "include <song-path>...", "Bring excluded songs back into the library"
	if exclude {
		use, short = "exclude <song-path>...", "Hide songs from the library; imports keep them hidden"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.db.SetExcluded(ctx, args, exclude)
			if err != nil {
				return err
			}
			fmt.Printf("Updated %d song(s).\n", n)
			return nil
		},
	}
}

//go:build protogen

package videoroom

import (
	"context"
	"time"

	"github.com/clinicore/clinicore/libs/grpcx"
	mediav1 "github.com/clinicore/clinicore/protos/gen/media/v1"
)

type Room struct {
	RoomID    string
	JoinToken string
	ExpiresAt time.Time
}

type Provider interface {
	CreateRoom(ctx context.Context, sessionID string) (Room, error)
	IssueJoinToken(ctx context.Context, roomID, participantID, role string) (Room, error)
	CloseRoom(ctx context.Context, roomID string) error
}

type grpcProvider struct {
	client mediav1.MediaServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: mediav1.NewMediaServiceClient(conn)}, nil
}

func (p *grpcProvider) CreateRoom(ctx context.Context, sessionID string) (Room, error) {
	resp, err := p.client.CreateRoom(ctx, &mediav1.CreateRoomRequest{SessionId: sessionID})
	if err != nil {
		return Room{}, err
	}
	room := Room{RoomID: resp.GetRoomId()}
	if resp.GetExpiresAt() != nil {
		room.ExpiresAt = resp.GetExpiresAt().AsTime()
	}
	return room, nil
}

func (p *grpcProvider) IssueJoinToken(ctx context.Context, roomID, participantID, role string) (Room, error) {
	resp, err := p.client.IssueJoinToken(ctx, &mediav1.JoinTokenRequest{
		RoomId:        roomID,
		ParticipantId: participantID,
		Role:          role,
	})
	if err != nil {
		return Room{}, err
	}
	room := Room{RoomID: roomID, JoinToken: resp.GetToken()}
	if resp.GetExpiresAt() != nil {
		room.ExpiresAt = resp.GetExpiresAt().AsTime()
	}
	return room, nil
}

func (p *grpcProvider) CloseRoom(ctx context.Context, roomID string) error {
	_, err := p.client.CloseRoom(ctx, &mediav1.CloseRoomRequest{RoomId: roomID})
	return err
}

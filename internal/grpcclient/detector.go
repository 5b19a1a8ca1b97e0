package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/facemoji/internal/facelocator"
	"github.com/example/facemoji/internal/imageprocessor"
	"github.com/example/facemoji/internal/logging"
)

// DetectMethod is the unary method served by the face detection service.
// It takes the JPEG-encoded image as google.protobuf.BytesValue and answers
// with a google.protobuf.Struct of the form
// {"detections": [{"box": [sx, sy, ex, ey], "confidence": c}, ...]}
// where box coordinates are normalized to [0,1].
const DetectMethod = "/facedetector.v1.FaceDetector/Detect"

// ErrMalformedResponse is returned when the detector answer does not match
// the expected shape.
var ErrMalformedResponse = errors.New("malformed detector response")

// DialFaceDetector returns a ready-to-use detector backed by the remote service.
func DialFaceDetector(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*FaceDetector, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_detector", "", err)
		logger.Error("failed to dial face detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewFaceDetector(conn, timeout, logger), conn, nil
}

// FaceDetector implements facelocator.Detector over gRPC.
type FaceDetector struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

// NewFaceDetector wraps an existing connection.
func NewFaceDetector(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *FaceDetector {
	return &FaceDetector{conn: conn, timeout: timeout, logger: logger.Named("face_detector")}
}

// Detect sends img to the detector and returns its candidates.
func (d *FaceDetector) Detect(ctx context.Context, img image.Image) ([]facelocator.Detection, error) {
	payload, err := imageprocessor.EncodeJPEG(img, imageprocessor.DefaultJPEGQuality)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.detect", "", err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := d.conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(payload), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect", "", err)
		d.logger.Error("face detector call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	detections, err := parseDetections(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.detect", "", err)
	}
	d.logger.Debug("face detector answered", zap.Int("candidates", len(detections)))
	return detections, nil
}

func parseDetections(resp *structpb.Struct) ([]facelocator.Detection, error) {
	field, ok := resp.GetFields()["detections"]
	if !ok {
		return nil, fmt.Errorf("%w: missing detections", ErrMalformedResponse)
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: detections is not a list", ErrMalformedResponse)
	}

	detections := make([]facelocator.Detection, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		entry := item.GetStructValue()
		if entry == nil {
			return nil, fmt.Errorf("%w: detection %d is not an object", ErrMalformedResponse, i)
		}

		box := entry.GetFields()["box"].GetListValue()
		if box == nil || len(box.GetValues()) != 4 {
			return nil, fmt.Errorf("%w: detection %d box must have 4 coordinates", ErrMalformedResponse, i)
		}
		conf, ok := entry.GetFields()["confidence"]
		if !ok {
			return nil, fmt.Errorf("%w: detection %d has no confidence", ErrMalformedResponse, i)
		}
		if _, isNumber := conf.GetKind().(*structpb.Value_NumberValue); !isNumber {
			return nil, fmt.Errorf("%w: detection %d confidence is not a number", ErrMalformedResponse, i)
		}
		if c := conf.GetNumberValue(); math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: detection %d confidence is not finite", ErrMalformedResponse, i)
		}

		var d facelocator.Detection
		for j, v := range box.GetValues() {
			if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
				return nil, fmt.Errorf("%w: detection %d box coordinate %d is not a number", ErrMalformedResponse, i, j)
			}
			d.Box[j] = v.GetNumberValue()
		}
		d.Confidence = conf.GetNumberValue()
		detections = append(detections, d)
	}
	return detections, nil
}

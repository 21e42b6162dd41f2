package media

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Cloudinary struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinary(url, folder string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromURL(url)
	if err != nil {
		return nil, err
	}
	return &Cloudinary{cld: cld, folder: folder}, nil
}

func (c *Cloudinary) Upload(ctx context.Context, owner primitive.ObjectID, f File) (string, error) {
	key := objectKey(c.folder, owner, f.Name, time.Now())
	dir, file := path.Split(key)

	params := uploader.UploadParams{
		Folder:       strings.TrimSuffix(dir, "/"),
		PublicID:     strings.TrimSuffix(file, path.Ext(file)),
		ResourceType: "auto",
	}
	if strings.HasPrefix(f.ContentType, "image/") {
		params.Transformation = "c_limit,w_1600,h_1600,q_auto"
	}

	res, err := c.cld.Upload.Upload(ctx, f.Body, params)
	if err != nil {
		return "", err
	}
	if res.Error.Message != "" {
		return "", errors.New(res.Error.Message)
	}
	return res.SecureURL, nil
}

package storage

type Option func(c *options)

type options struct {
	endpoint        string
	region          string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

func newOptions(opts ...Option) *options {
	cfg := &options{
		region: "us-east-1",
		useSSL: false,
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

func WithEndpoint(endpoint string) Option {
	return func(c *options) {
		c.endpoint = endpoint
	}
}

func WithRegion(region string) Option {
	return func(c *options) {
		c.region = region
	}
}

func WithBucket(bucket string) Option {
	return func(c *options) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) Option {
	return func(c *options) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) Option {
	return func(c *options) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) Option {
	return func(c *options) {
		c.useSSL = useSSL
	}
}

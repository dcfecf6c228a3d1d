package lockstore

import (
	"context"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
)

// KubernetesStore implements Store on coordination.k8s.io Leases. The holder
// identity carries the owner token and LeaseTransitions carries the fencing
// epoch; transitions are preserved across holder changes, so a fresh
// acquisition always observes a larger epoch. Optimistic concurrency comes
// from resourceVersion conflicts on update.
type KubernetesStore struct {
	clientset kubernetes.Interface
	namespace string
}

// NewKubernetesStore creates a KubernetesStore with in-cluster or kubeconfig
// auth.
func NewKubernetesStore(namespace, kubeconfig string) (*KubernetesStore, error) {
	var restConfig *rest.Config
	var err error

	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s clientset: %w", err)
	}

	return NewKubernetesStoreWithClient(clientset, namespace), nil
}

// NewKubernetesStoreWithClient creates a KubernetesStore with an injected
// clientset, used in tests with a fake clientset.
func NewKubernetesStoreWithClient(clientset kubernetes.Interface, namespace string) *KubernetesStore {
	return &KubernetesStore{
		clientset: clientset,
		namespace: namespace,
	}
}

// Acquire implements Store.
func (s *KubernetesStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (int64, bool, error) {
	now := metav1.NewMicroTime(time.Now())
	leases := s.clientset.CoordinationV1().Leases(s.namespace)

	lease, err := leases.Get(ctx, key, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, createErr := leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      key,
				Namespace: s.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       ptr.To(token),
				LeaseDurationSeconds: ptr.To(ttlSeconds(ttl)),
				AcquireTime:          &now,
				RenewTime:            &now,
				LeaseTransitions:     ptr.To(int32(1)),
			},
		}, metav1.CreateOptions{})
		if createErr != nil {
			if apierrors.IsAlreadyExists(createErr) || apierrors.IsConflict(createErr) {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("k8s: create lease %s: %w", key, createErr)
		}
		return int64(*created.Spec.LeaseTransitions), true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("k8s: get lease %s: %w", key, err)
	}

	if !leaseExpired(lease, now.Time) {
		return 0, false, nil
	}

	epoch := int64(1)
	if lease.Spec.LeaseTransitions != nil {
		epoch = int64(*lease.Spec.LeaseTransitions) + 1
	}

	lease.Spec.HolderIdentity = ptr.To(token)
	lease.Spec.LeaseDurationSeconds = ptr.To(ttlSeconds(ttl))
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now
	lease.Spec.LeaseTransitions = ptr.To(int32(epoch))

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("k8s: update lease %s: %w", key, err)
	}

	return epoch, true, nil
}

// Renew implements Store.
func (s *KubernetesStore) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := metav1.NewMicroTime(time.Now())
	leases := s.clientset.CoordinationV1().Leases(s.namespace)

	lease, err := leases.Get(ctx, key, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("k8s: get lease %s: %w", key, err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != token {
		return false, nil
	}

	lease.Spec.LeaseDurationSeconds = ptr.To(ttlSeconds(ttl))
	lease.Spec.RenewTime = &now

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: update lease %s: %w", key, err)
	}

	return true, nil
}

// Release implements Store. The holder is cleared but the Lease object and
// its transition count remain for the next acquisition.
func (s *KubernetesStore) Release(ctx context.Context, key, token string) error {
	leases := s.clientset.CoordinationV1().Leases(s.namespace)

	lease, err := leases.Get(ctx, key, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("k8s: get lease %s: %w", key, err)
	}

	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != token {
		return nil
	}

	lease.Spec.HolderIdentity = nil
	lease.Spec.RenewTime = nil

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return nil
		}
		return fmt.Errorf("k8s: update lease %s: %w", key, err)
	}

	return nil
}

// leaseExpired reports whether the lease is free or past its renewal window.
func leaseExpired(lease *coordinationv1.Lease, now time.Time) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return true
	}
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	expiry := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)
	return expiry.Before(now)
}

// ttlSeconds converts to whole seconds, rounding sub-second TTLs up so the
// lease is never created already expired.
func ttlSeconds(ttl time.Duration) int32 {
	secs := int32(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Compile-time interface check.
var _ Store = (*KubernetesStore)(nil)
